// Package updater downloads firmware images and installs them.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-errors/errors"
	"github.com/inconshreveable/go-update"
)

const chunkSize = 32 * 1024

var (
	ErrSizeMismatch = errors.New("downloaded size does not match the offer")
	ErrChecksum     = errors.New("image checksum mismatch")
)

// ProgressFunc observes a running download.
type ProgressFunc func(transferred uint32, total uint32)

// Image is a downloaded firmware image waiting to be applied.
type Image struct {
	Url      string
	Path     string
	Size     uint32
	Checksum []byte
	Started  time.Time
}

func (i *Image) ChecksumHex() string {
	return hex.EncodeToString(i.Checksum)
}

// Remove deletes the downloaded file.
func (i *Image) Remove() error {
	return os.Remove(i.Path)
}

type Config struct {
	// TargetPath is the file that is replaced by Apply. Empty means the
	// running executable.
	TargetPath string
	// DownloadDir receives the images while they are downloaded.
	DownloadDir string
	// DryRun verifies images without replacing the target.
	DryRun bool
	Client *http.Client
	Logger Logger
}

type Updater struct {
	targetPath  string
	downloadDir string
	dryRun      bool
	client      *http.Client
	log         Logger
}

func New(config *Config) *Updater {
	u := &Updater{
		targetPath:  config.TargetPath,
		downloadDir: config.DownloadDir,
		dryRun:      config.DryRun,
		client:      config.Client,
	}

	if config.Logger != nil {
		u.log = config.Logger
	} else {
		u.log = noopLogger{}
	}

	if u.client == nil {
		u.client = http.DefaultClient
	}

	if u.downloadDir == "" {
		u.downloadDir = os.TempDir()
	}

	return u
}

// Download fetches the image at url. size is the announced image size, zero
// when unknown, in which case the Content-Length is used. progress is called
// after every received chunk.
func (u *Updater) Download(ctx context.Context, url string, size uint32, progress ProgressFunc) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Errorf("could not create request: %v", err)
	}

	u.log.Infof("Downloading firmware from %v", url)

	res, err := u.client.Do(req)
	if err != nil {
		return nil, errors.Errorf("could not download %v: %v", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("could not download %v: %v", url, res.Status)
	}

	total := size
	if total == 0 && res.ContentLength > 0 {
		total = uint32(res.ContentLength)
	}

	file, err := os.CreateTemp(u.downloadDir, "firmware-*.bin")
	if err != nil {
		return nil, errors.Errorf("could not create image file: %v", err)
	}

	image := &Image{
		Url:     url,
		Path:    file.Name(),
		Started: time.Now(),
	}

	hash := sha256.New()
	transferred, err := copyWithProgress(io.MultiWriter(file, hash), res.Body, total, progress)

	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}

	if err == nil && total > 0 && transferred != total {
		err = errors.Errorf("got %d of %d bytes: %w", transferred, total, ErrSizeMismatch)
	}

	if err != nil {
		_ = image.Remove()
		return nil, errors.Errorf("could not download %v: %v", url, err)
	}

	// without a known size the last sample is the completion
	if total == 0 && transferred > 0 && progress != nil {
		progress(transferred, transferred)
	}

	image.Size = transferred
	image.Checksum = hash.Sum(nil)

	u.log.Infof("Downloaded %d bytes, sha256 %v", image.Size, image.ChecksumHex())

	return image, nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total uint32, progress ProgressFunc) (uint32, error) {
	var transferred uint32

	buf := make([]byte, chunkSize)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return transferred, werr
			}

			transferred += uint32(n)

			if progress != nil {
				progress(transferred, total)
			}
		}

		if err == io.EOF {
			return transferred, nil
		}
		if err != nil {
			return transferred, err
		}
	}
}

// Apply replaces the target with the image after verifying its checksum.
// A failed replacement is rolled back by go-update; if the rollback fails
// too, the returned error says so.
func (u *Updater) Apply(image *Image) error {
	file, err := os.Open(image.Path)
	if err != nil {
		return errors.Errorf("could not open image: %v", err)
	}
	defer file.Close()

	if u.dryRun {
		hash := sha256.New()
		if _, err := io.Copy(hash, file); err != nil {
			return errors.Errorf("could not read image: %v", err)
		}

		if hex.EncodeToString(hash.Sum(nil)) != image.ChecksumHex() {
			return ErrChecksum
		}

		u.log.Infof("Dry run, not replacing %v", u.target())

		return nil
	}

	opts := update.Options{
		TargetPath: u.targetPath,
		Checksum:   image.Checksum,
	}

	if err := opts.CheckPermissions(); err != nil {
		return errors.Errorf("cannot replace %v: %v", u.target(), err)
	}

	u.log.Infof("Applying firmware to %v", u.target())

	if err := update.Apply(file, opts); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return errors.Errorf("could not apply image, rollback failed: %v", rerr)
		}
		return errors.Errorf("could not apply image: %v", err)
	}

	u.log.Infof("Firmware applied")

	return nil
}

func (u *Updater) target() string {
	if u.targetPath == "" {
		return "running executable"
	}
	return u.targetPath
}
