package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sondetrack/telemetry"
)

// ErrAuxDataUnavailable means neither GPS ephemeris nor almanac data could
// be obtained. RS92 telemetry cannot be position-solved without one of them,
// so the decode attempt fails fast; the search loop carries on.
var ErrAuxDataUnavailable = errors.New("gps ephemeris/almanac unavailable")

// AuxData carries the resolved GPS auxiliary file paths. Both empty means
// the sonde type needs none.
type AuxData struct {
	EphemerisPath string
	AlmanacPath   string
}

// AuxResolver downloads or reuses GPS auxiliary data files. A file fresher
// than MaxAge is reused instead of re-downloaded, so back-to-back decode
// sessions do not hammer the data services.
type AuxResolver struct {
	Dir          string
	MaxAge       time.Duration
	EphemerisURL string
	AlmanacURL   string

	client *http.Client
}

// Default sources for GPS auxiliary data.
const (
	defaultEphemerisURL = "https://igs.bkg.bund.de/root_ftp/IGS/BRDC/brdc.rnx"
	defaultAlmanacURL   = "https://www.navcen.uscg.gov/?pageName=currentAlmanac&format=sem"
	defaultAuxMaxAge    = 6 * time.Hour
)

// NewAuxResolver creates a resolver caching files under dir.
func NewAuxResolver(dir string) *AuxResolver {
	return &AuxResolver{
		Dir:          dir,
		MaxAge:       defaultAuxMaxAge,
		EphemerisURL: defaultEphemerisURL,
		AlmanacURL:   defaultAlmanacURL,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Resolve returns the auxiliary data needed to decode sondeType. RS41 needs
// none. RS92 prefers ephemeris and falls back to almanac; when both are
// unobtainable (typically no internet connection) it returns
// ErrAuxDataUnavailable.
func (r *AuxResolver) Resolve(ctx context.Context, sondeType telemetry.SondeType) (AuxData, error) {
	if sondeType != telemetry.TypeRS92 {
		return AuxData{}, nil
	}

	if path, err := r.fetch(ctx, r.EphemerisURL, "ephemeris.dat"); err == nil {
		return AuxData{EphemerisPath: path}, nil
	} else {
		log.Printf("Decode: ephemeris download failed (%v), trying almanac", err)
	}

	if path, err := r.fetch(ctx, r.AlmanacURL, "almanac.txt"); err == nil {
		return AuxData{AlmanacPath: path}, nil
	} else {
		log.Printf("Decode: almanac download failed: %v", err)
	}

	return AuxData{}, ErrAuxDataUnavailable
}

// fetch returns the cached file when fresh enough, otherwise downloads it.
// Downloads land in a temp file first and rename into place so a partial
// download can never be mistaken for valid aux data.
func (r *AuxResolver) fetch(ctx context.Context, url, name string) (string, error) {
	dest := filepath.Join(r.Dir, name)

	if info, err := os.Stat(dest); err == nil && r.MaxAge > 0 {
		if age := time.Since(info.ModTime()); age < r.MaxAge {
			log.Printf("Decode: reusing %s (age %s)", dest, age.Round(time.Minute))
			return dest, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(r.Dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}

	log.Printf("Decode: downloaded %s", dest)
	return dest, nil
}
