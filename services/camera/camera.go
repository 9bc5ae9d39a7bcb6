// Package camera provides attendance.FrameSource implementations: a
// directory replay source for camera-less setups and tests, and an
// MJPEG-over-HTTP source for IP webcams. Every frame is normalized
// (downscaled, re-encoded) before leaving the source so payloads stay
// inside the recognition endpoint's size limit.
package camera

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// New builds the configured frame source.
func New(conf *core.Config) (attendance.FrameSource, error) {
	switch conf.Camera.Source {
	case "dir":
		return NewDir(conf.Camera)
	case "mjpeg":
		return NewMJPEG(conf.Camera)
	}
	return nil, errors.Errorf("unknown camera source %q", conf.Camera.Source)
}

// normalize decodes an image, downscales it to maxEdge on its longer side
// and re-encodes it as JPEG.
func normalize(data []byte, camConf core.CameraConfig) (attendance.Frame, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return attendance.Frame{}, errors.Wrap(err, "decoding frame")
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxEdge := camConf.MaxEdge; maxEdge > 0 && (width > maxEdge || height > maxEdge) {
		if width >= height {
			img = imaging.Resize(img, maxEdge, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxEdge, imaging.Lanczos)
		}
		bounds = img.Bounds()
		width, height = bounds.Dx(), bounds.Dy()
	}

	quality := camConf.JPEGQuality
	if quality <= 0 {
		quality = 80
	}
	var buff bytes.Buffer
	if err = imaging.Encode(&buff, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return attendance.Frame{}, errors.Wrap(err, "encoding frame")
	}

	return attendance.Frame{
		Data:       buff.Bytes(),
		Width:      width,
		Height:     height,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Dir replays image files from a directory in name order, cycling when it
// reaches the end.
type Dir struct {
	conf  core.CameraConfig
	files []string

	mu   sync.Mutex
	next int
}

var _ attendance.FrameSource = (*Dir)(nil)

func NewDir(conf core.CameraConfig) (*Dir, error) {
	entries, err := os.ReadDir(conf.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading camera dir %s", conf.Dir)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(conf.Dir, entry.Name()))
		}
	}
	sort.Strings(files)

	return &Dir{conf: conf, files: files}, nil
}

func (d *Dir) Capture(_ context.Context) (attendance.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.files) == 0 {
		return attendance.Frame{}, attendance.ErrNoFrame
	}

	path := d.files[d.next%len(d.files)]
	d.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return attendance.Frame{}, errors.Wrapf(err, "reading %s", path)
	}
	return normalize(data, d.conf)
}

func (d *Dir) Close() error { return nil }
