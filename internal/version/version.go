package version

// Version is the diffrelay release version. Overridden at build time via
// -ldflags "-X github.com/saworbit/diffrelay/internal/version.Version=...".
var Version = "0.1.0"
