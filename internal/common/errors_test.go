package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRadishError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &RadishError{
		Type:    "INSTALL_ERROR",
		Code:    500,
		Message: "dependency install failed",
		Details: "fastapi==0.95.0",
		Cause:   cause,
	}

	assert.Contains(t, err.Error(), "INSTALL_ERROR")
	assert.Contains(t, err.Error(), "fastapi==0.95.0")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestValidateBuildRequest(t *testing.T) {
	valid := BuildRequest{
		ManifestPath: "/srv/requirements.txt",
		SourceDir:    "/srv/app",
		ImageDir:     "/srv/image",
	}
	assert.NoError(t, ValidateBuildRequest(valid))

	missing := valid
	missing.ManifestPath = ""
	assert.Error(t, ValidateBuildRequest(missing))

	missing = valid
	missing.SourceDir = ""
	assert.Error(t, ValidateBuildRequest(missing))

	missing = valid
	missing.ImageDir = ""
	assert.Error(t, ValidateBuildRequest(missing))
}

func TestValidateLaunchSpec(t *testing.T) {
	valid := LaunchSpec{
		Entrypoint: "run:app",
		Host:       "0.0.0.0",
		Port:       8080,
		ImageDir:   "/srv/image",
	}
	assert.NoError(t, ValidateLaunchSpec(valid))

	bad := valid
	bad.Port = 0
	assert.Error(t, ValidateLaunchSpec(bad))

	bad = valid
	bad.Port = 70000
	assert.Error(t, ValidateLaunchSpec(bad))

	bad = valid
	bad.Entrypoint = ""
	assert.Error(t, ValidateLaunchSpec(bad))

	bad = valid
	bad.Host = ""
	assert.Error(t, ValidateLaunchSpec(bad))
}

func TestLaunchSpecDirs(t *testing.T) {
	spec := LaunchSpec{ImageDir: "/srv/image"}

	assert.Equal(t, "/srv/image/app", spec.AppDir())
	assert.Equal(t, "/srv/image/env", spec.EnvDir())
}
