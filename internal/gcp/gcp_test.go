package gcp

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
)

func TestGCSRefRoundTrip(t *testing.T) {
	ref := GCSRef("outputs", "jobs/42/geodata.geojson")
	if ref != "gs://outputs/jobs/42/geodata.geojson" {
		t.Fatalf("ref = %q", ref)
	}
	bucket, object, err := ParseGCSRef(ref)
	if err != nil || bucket != "outputs" || object != "jobs/42/geodata.geojson" {
		t.Errorf("ParseGCSRef = %q %q %v", bucket, object, err)
	}
}

func TestParseGCSRefRejects(t *testing.T) {
	for _, ref := range []string{"", "mem://x", "gs://", "gs://bucket", "gs://bucket/", "gs:///obj"} {
		if _, _, err := ParseGCSRef(ref); !errors.Is(err, blob.ErrInvalidName) {
			t.Errorf("ParseGCSRef(%q) err = %v", ref, err)
		}
	}
}

func TestPreconditionFailed(t *testing.T) {
	conflict := &googleapi.Error{Code: 412}
	if !preconditionFailed(conflict) || !preconditionFailed(fmt.Errorf("close: %w", conflict)) {
		t.Error("412 not recognized")
	}
	if preconditionFailed(&googleapi.Error{Code: 500}) || preconditionFailed(errors.New("412")) {
		t.Error("non-412 error recognized")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("GEOINGEST_TEST_SET", "value")
	if got := GetEnv("GEOINGEST_TEST_SET", "fallback"); got != "value" {
		t.Errorf("set var = %q", got)
	}
	if got := GetEnv("GEOINGEST_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("unset var = %q", got)
	}
}
