// Package report renders check runs into files.
// It defines the Writer interface and a registry of the supported formats.
package report

import (
	"checkengine/internal/model"
)

// Writer generates a report of a check run.
type Writer interface {
	// Write renders run into outputPath. Implementations add their file
	// extension when outputPath lacks it.
	Write(run *model.CheckRun, outputPath string) error

	// Format returns the format identifier, e.g. "excel" or "html".
	Format() string
}
