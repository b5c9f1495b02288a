package detector

import (
	"errors"
	"os"

	"github.com/loykin/katsctl/internal/pidfile"
)

// PIDFileDetector detects a process via a PID file.
// When the file carries a start time, a live PID whose start time differs is
// treated as a reused PID and reported as not alive.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	rec, err := pidfile.New(d.PIDFile).Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if rec.StartUnix > 0 {
		cur := ProcStartUnix(rec.PID)
		if cur > 0 && cur != rec.StartUnix {
			return false, nil
		}
	}
	return PIDAlive(rec.PID), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
