package deploy

import (
	"fmt"
	"math/rand"
)

// Word lists for generated subdomains. Collisions are possible and handled by
// the unique index plus a retry with a fresh slug.
var (
	slugAdjectives = []string{
		"amber", "bold", "brisk", "calm", "clear", "coral", "crisp", "deep",
		"eager", "fleet", "gentle", "keen", "lively", "lucid", "mellow",
		"noble", "polar", "quiet", "rapid", "solar", "steady", "swift",
		"tidal", "vivid", "wry",
	}
	slugNouns = []string{
		"anchor", "basin", "beacon", "breeze", "cliff", "cove", "current",
		"delta", "dune", "fjord", "harbor", "inlet", "jetty", "lagoon",
		"marsh", "pier", "quay", "reef", "ridge", "shoal", "sound", "strait",
		"summit", "tide", "wharf",
	}
)

// newSubdomain produces a slug in the style of adjective-noun-nnnn.
func newSubdomain() string {
	adjective := slugAdjectives[rand.Intn(len(slugAdjectives))]
	noun := slugNouns[rand.Intn(len(slugNouns))]
	return fmt.Sprintf("%s-%s-%04d", adjective, noun, rand.Intn(10000))
}
