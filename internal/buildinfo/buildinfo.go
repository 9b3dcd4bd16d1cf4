// Package buildinfo carries version metadata set at link time, e.g.
// -ldflags "-X routeplanner/internal/buildinfo.Version=v1.2.0".
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
