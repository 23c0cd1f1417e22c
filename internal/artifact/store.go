// Package artifact stores built static sites in an S3-compatible object
// store. Objects are laid out as <root>/<deployment-id>/<relative-path> so
// the request router can map a subdomain straight to a key prefix.
package artifact

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/berth-dev/berth/pkg/config"
)

// Store wraps the object store client for artifact uploads.
type Store struct {
	client *minio.Client
	cfg    config.ArtifactConfig
}

// New creates an artifact store from configuration.
func New(cfg config.ArtifactConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the artifact bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check artifact bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("create artifact bucket: %w", err)
	}
	return nil
}

// Put uploads a single artifact file under the deployment's prefix.
func (s *Store) Put(ctx context.Context, deploymentID, relPath string, body io.Reader, size int64) error {
	key := ObjectKey(s.cfg.Root, deploymentID, relPath)
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(relPath)}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, key, body, size, opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// UploadDir walks a build output directory and uploads every regular file,
// preserving the relative layout. onFile, when non-nil, is called with each
// relative path before its upload. It returns the number of files uploaded.
func (s *Store) UploadDir(ctx context.Context, deploymentID, dir string, onFile func(rel string)) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if onFile != nil {
			onFile(filepath.ToSlash(rel))
		}
		file, err := os.Open(p)
		if err != nil {
			return err
		}
		uploadErr := s.Put(ctx, deploymentID, filepath.ToSlash(rel), file, info.Size())
		file.Close()
		if uploadErr != nil {
			return uploadErr
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("upload artifact dir: %w", err)
	}
	return uploaded, nil
}

// ObjectKey builds the canonical artifact key for a deployment file.
func ObjectKey(root, deploymentID, relPath string) string {
	return path.Join(root, deploymentID, path.Clean("/"+relPath))
}

func contentTypeFor(relPath string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(relPath))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
