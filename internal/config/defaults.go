package config

import (
	"runtime"

	"github.com/spf13/viper"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile    string
	ConfigPath string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:    `C:\ProgramData\Hostprobe\hostprobe.log`,
			ConfigPath: `C:\ProgramData\Hostprobe\config.yaml`,
		}
	case "darwin":
		return PlatformDefaults{
			LogFile:    "/usr/local/var/log/hostprobe/hostprobe.log",
			ConfigPath: "/usr/local/etc/hostprobe/config.yaml",
		}
	case "linux":
		return PlatformDefaults{
			LogFile:    "/var/log/hostprobe/hostprobe.log",
			ConfigPath: "/etc/hostprobe/config.yaml",
		}
	default:
		// Fallback to Linux-like defaults for unknown platforms
		return PlatformDefaults{
			LogFile:    "/var/log/hostprobe/hostprobe.log",
			ConfigPath: "/etc/hostprobe/config.yaml",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults applies platform-specific values as viper defaults.
// Called from setDefaults() in config.go.
func UpdateConfigDefaults(v *viper.Viper) {
	defaults := GetPlatformDefaults()
	v.SetDefault("logging.file", defaults.LogFile)
}
