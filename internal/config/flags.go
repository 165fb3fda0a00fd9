package config

import (
	"strconv"

	"github.com/spf13/pflag"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"host":           "host",
	"port":           "port",
	"user":           "user",
	"key":            "key_path",
	"password":       "password",
	"known-hosts":    "known_hosts",
	"pen-device":     "pen_device",
	"touch-device":   "touch_device",
	"pen-only":       "pen_only",
	"touch-only":     "touch_only",
	"no-grab":        "grab_input",
	"no-palm":        "palm_rejection",
	"palm-grace":     "palm_grace",
	"orientation":    "orientation",
	"stale-after":    "liveness.stale_after",
	"agent-dir":      "agent.local_dir",
	"websocket":      "sink.websocket",
	"no-uinput":      "sink.uinput",
	"metrics-listen": "metrics.listen",
	"log-level":      "log.level",
	"dev":            "log.development",
}

// negated flags turn a default-on setting off.
var negated = map[string]bool{
	"no-grab":   true,
	"no-palm":   true,
	"no-uinput": true,
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default ./rm-pad.yaml, then the user config dir)")

	fs.String("host", "", "tablet address (default "+DefaultHost+")")
	fs.Int("port", 0, "SSH port (default 22)")
	fs.String("user", "", "SSH user (default root)")
	fs.String("key", "", "SSH private key path")
	fs.String("password", "", "SSH password; prefer RMPAD_PASSWORD")
	fs.String("known-hosts", "", "known_hosts file for host key checking")

	fs.String("pen-device", "", `pen input node on the tablet, or "auto"`)
	fs.String("touch-device", "", `touch input node on the tablet, or "auto"`)
	fs.Bool("pen-only", false, "forward the pen only")
	fs.Bool("touch-only", false, "forward touch only")
	fs.Bool("no-grab", false, "don't grab input; the tablet UI keeps seeing it")
	fs.Bool("no-palm", false, "disable palm rejection")
	fs.Duration("palm-grace", 0, "how long touch stays suppressed after pen activity (default 500ms)")
	fs.String("orientation", "", "portrait, landscape-right, landscape-left or inverted")
	fs.Duration("stale-after", 0, "agents release the grab when the liveness marker is older than this")
	fs.String("agent-dir", "", "directory with rm-pad-grab-<arch> binaries overriding the embedded ones")

	fs.String("websocket", "", "also forward events to this ws:// URL")
	fs.Bool("no-uinput", false, "don't create virtual input devices")
	fs.String("metrics-listen", "", "serve Prometheus metrics on this address")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.Bool("dev", false, "development logging")
}

// flagValue is the posflag callback: it renames flags to their keys and
// flips negated booleans. Flags without a key are skipped.
func flagValue(f *pflag.Flag) (string, interface{}) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	switch f.Value.Type() {
	case "bool":
		v := f.Value.String() == "true"
		if negated[f.Name] {
			v = !v
		}
		return key, v
	case "int":
		n, _ := strconv.Atoi(f.Value.String())
		return key, n
	}
	return key, f.Value.String()
}
