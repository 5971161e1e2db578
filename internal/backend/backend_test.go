package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/poolwarden/poolwarden/internal/config"
)

func TestIsCapacity(t *testing.T) {
	capErr := &CapacityError{Msg: "maximum number of containers reached"}

	if !IsCapacity(capErr) {
		t.Error("IsCapacity(CapacityError) = false, want true")
	}
	if !IsCapacity(fmt.Errorf("start failed: %w", capErr)) {
		t.Error("IsCapacity(wrapped CapacityError) = false, want true")
	}
	if IsCapacity(errors.New("image pull failed")) {
		t.Error("IsCapacity(ordinary error) = true, want false")
	}
	if IsCapacity(nil) {
		t.Error("IsCapacity(nil) = true, want false")
	}
}

func TestDockerAdapter_Classify(t *testing.T) {
	a := &DockerAdapter{
		cfg: &config.BackendConfig{
			CapacityErrorMatch: "maximum number of containers",
		},
	}

	err := a.classify(errors.New("failed to create container: Error response from daemon: maximum number of containers (10) reached"))
	if !IsCapacity(err) {
		t.Errorf("classify(capacity text) = %v, want CapacityError", err)
	}

	plain := errors.New("failed to create container: no such image")
	if got := a.classify(plain); got != plain {
		t.Errorf("classify(ordinary error) = %v, want unchanged", got)
	}
}

func TestDockerAdapter_Classify_EmptyMatch(t *testing.T) {
	a := &DockerAdapter{cfg: &config.BackendConfig{}}

	// With no configured match text, nothing is ever classified as capacity.
	err := a.classify(errors.New("maximum number of containers reached"))
	if IsCapacity(err) {
		t.Error("classify with empty match produced CapacityError")
	}
}
