package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("STILLCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("camera.node_name", "STILLCAM_NODE_NAME")
	v.BindEnv("camera.format", "STILLCAM_FORMAT")
	v.BindEnv("image.fit", "STILLCAM_FIT")
	v.BindEnv("bus.socket", "STILLCAM_BUS_SOCKET", "STILLCAM_SOCKET")
	v.BindEnv("bus.pool_dir", "STILLCAM_POOL_DIR")
	v.BindEnv("bus.autostart", "STILLCAM_AUTOSTART")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/.stillcam",
		filepath.Join(xdg.ConfigHome, "stillcam"),
		"/etc/stillcam",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.node_name", "virtual-camera")
	v.SetDefault("camera.description", "Still Image Camera")
	v.SetDefault("camera.format", "BGRA")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.framerate_num", 30)
	v.SetDefault("camera.framerate_denom", 1)

	v.SetDefault("image.fit", "contain")

	v.SetDefault("buffers.min", 2)
	v.SetDefault("buffers.max", 8)
	v.SetDefault("buffers.align", 16)

	runtimeDir := filepath.Join(xdg.RuntimeDir, "stillcam")
	v.SetDefault("bus.socket", filepath.Join(runtimeDir, "bus.sock"))
	v.SetDefault("bus.pool_dir", runtimeDir)
	v.SetDefault("bus.max_buffer_size", 0)
	v.SetDefault("bus.default_buffers", 2)
	v.SetDefault("bus.autostart", false)
}

// Set overrides a key for the rest of the process, as command line flags do.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// GetNodeName returns the name the camera registers under
func GetNodeName() string {
	return v.GetString("camera.node_name")
}

// GetDescription returns the human readable camera description
func GetDescription() string {
	return v.GetString("camera.description")
}

// GetFormat returns the pixel layout name of the default format
func GetFormat() string {
	return v.GetString("camera.format")
}

// GetSize returns the frame width and height
func GetSize() (int, int) {
	return v.GetInt("camera.width"), v.GetInt("camera.height")
}

// GetFramerate returns the frame rate as numerator and denominator
func GetFramerate() (uint32, uint32) {
	return v.GetUint32("camera.framerate_num"), v.GetUint32("camera.framerate_denom")
}

// GetFit returns how the image is fitted into the frame
func GetFit() string {
	return v.GetString("image.fit")
}

// GetBufferLimits returns the accepted buffer count range and alignment
func GetBufferLimits() (minCount, maxCount, align int) {
	return v.GetInt("buffers.min"), v.GetInt("buffers.max"), v.GetInt("buffers.align")
}

// GetBusSocket returns the unix socket path of the bus daemon
func GetBusSocket() string {
	return v.GetString("bus.socket")
}

// GetBusHome returns the directory holding the daemon's PID and log files
func GetBusHome() string {
	return filepath.Dir(GetBusSocket())
}

// GetPoolDir returns where the daemon creates shared memory pools
func GetPoolDir() string {
	return v.GetString("bus.pool_dir")
}

// GetMaxBufferSize returns the largest buffer the daemon accepts, 0 for no limit
func GetMaxBufferSize() int {
	return v.GetInt("bus.max_buffer_size")
}

// GetDefaultBuffers returns the buffer count the daemon asks for when a
// consumer does not say
func GetDefaultBuffers() int {
	return v.GetInt("bus.default_buffers")
}

// GetAutostart reports whether the camera starts the daemon when none runs
func GetAutostart() bool {
	return v.GetBool("bus.autostart")
}

// AllSettings returns the effective configuration as nested maps
func AllSettings() map[string]interface{} {
	return v.AllSettings()
}

// ConfigFileUsed returns the config file that was read, if any
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}
