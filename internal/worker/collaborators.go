package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/berryscan/relayctl/internal/tools"
)

// CollaboratorConfig points the worker at its external commands. The
// commands themselves are opaque; only their text output and exit
// status travel back over the wire.
type CollaboratorConfig struct {
	// ListDir is the directory listed on LS_REQUEST.
	ListDir string

	// CaptureWidth/CaptureHeight shape the libcamera-still invocation.
	CaptureWidth  int
	CaptureHeight int

	// UploadBucket receives captured frames on S3_UPLOAD_REQUEST.
	UploadBucket string
}

// Worker collaborator defaults matching the dome rig's capture chain.
func DefaultCollaboratorConfig() CollaboratorConfig {
	return CollaboratorConfig{
		ListDir:       ".",
		CaptureWidth:  4056,
		CaptureHeight: 3040,
		UploadBucket:  "berryscan-dome-scanner",
	}
}

// Collaborators invokes the external listing, capture, and upload
// commands and shapes their results into response payload details.
type Collaborators struct {
	cfg    CollaboratorConfig
	runner tools.CommandRunner
}

func NewCollaborators(cfg CollaboratorConfig, runner tools.CommandRunner) *Collaborators {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	if cfg.ListDir == "" {
		cfg.ListDir = "."
	}
	return &Collaborators{cfg: cfg, runner: runner}
}

// List captures a directory listing. A failed invocation yields an
// ERROR detail instead of an error return; the reply always goes out.
func (c *Collaborators) List() string {
	out, code, err := c.runner.Run(c.cfg.ListDir, "ls", "-la")
	if err != nil && len(out) == 0 {
		return fmt.Sprintf("ERROR:listing failed (exit %d)", code)
	}
	return "\n" + string(out)
}

// Capture shoots one still frame into a timestamp-named file in the
// listing directory and reports SUCCESS or ERROR with the tool output.
func (c *Collaborators) Capture(now time.Time) string {
	filename := now.Format("20060102_150405") + ".png"
	out, code, err := c.runner.Run(c.cfg.ListDir,
		"libcamera-still",
		"-n",
		"-t", "1",
		"--width", fmt.Sprintf("%d", c.cfg.CaptureWidth),
		"--height", fmt.Sprintf("%d", c.cfg.CaptureHeight),
		"-e", "png",
		"-o", filename,
		"--immediate",
	)
	if err != nil {
		return fmt.Sprintf("ERROR:Camera capture failed (exit %d)\n%s", code, out)
	}
	return fmt.Sprintf("SUCCESS:Image saved as %s\n%s", filename, out)
}

// Upload pushes every captured frame to a dated prefix in the bucket
// and reports the count the upload tool claims to have transferred.
func (c *Collaborators) Upload(now time.Time) string {
	prefix := fmt.Sprintf("s3://%s/%s/%s/",
		c.cfg.UploadBucket,
		now.Format("2006-0102-scan"),
		now.Format("2006-0102-1504"),
	)
	out, code, err := c.runner.Run(c.cfg.ListDir,
		"aws", "s3", "cp", ".", prefix,
		"--recursive",
		"--exclude", "*",
		"--include", "*.png",
	)
	if err != nil {
		return fmt.Sprintf("ERROR:S3 upload failed (exit %d)\n%s", code, out)
	}
	uploaded := strings.Count(string(out), "upload:")
	return fmt.Sprintf("SUCCESS:Uploaded %d files to %s\n%s", uploaded, prefix, out)
}
