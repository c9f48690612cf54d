package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDService string
	MQTTClientIDAccel   string
	MQTTClientIDGPS     string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string

	// Topics
	TopicAccel         string
	TopicGPS           string
	TopicCaptureEvents string
	TopicMotion        string
	TopicReconRequest  string
	TopicReconEvents   string

	// Accelerometer: "mpu9250", "mqtt", "mock" or "none"
	AccelSource string
	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte

	// Motion warning
	MotionSampleInterval  time.Duration
	MotionThreshold       float64
	MotionWarningDuration time.Duration

	// Capture
	CaptureMode          string // "manual" or "automatic"
	CaptureInterval      time.Duration
	CaptureTickInterval  time.Duration
	MinRecommendedPhotos int
	MinPhotosBlocking    bool

	// Camera: "command" or "device"
	CameraBackend string
	CameraCommand string
	CameraArgs    []string
	CameraDevice  string

	// Workspace
	WorkspaceDir  string
	ThumbnailSize int

	// Reconstruction
	ReconDetail      string
	ReconOrdering    string
	ReconSensitivity string
	ReconIdleTimeout time.Duration

	// Location: "serial", "mqtt" or "none"
	LocationSource  string
	GPSSerialPort   string
	GPSBaudRate     int
	LocationTimeout time.Duration

	// Catalog
	CatalogDB string

	// Web Server
	WebServerPort int
	MetricsAddr   string

	// Status display (SSD1306 over I2C)
	DisplayI2CAddr        uint16
	DisplayUpdateInterval time.Duration
}

// Keys lists every accepted configuration key. Environment variables with
// these names override the file.
var Keys = []string{
	"MQTT_BROKER", "MQTT_CLIENT_ID_SERVICE", "MQTT_CLIENT_ID_ACCEL", "MQTT_CLIENT_ID_GPS", "MQTT_CLIENT_ID_CONSOLE", "MQTT_CLIENT_ID_DISPLAY",
	"TOPIC_ACCEL", "TOPIC_GPS", "TOPIC_CAPTURE_EVENTS", "TOPIC_MOTION", "TOPIC_RECON_REQUEST", "TOPIC_RECON_EVENTS",
	"ACCEL_SOURCE", "IMU_SPI_DEVICE", "IMU_CS_PIN", "IMU_ACCEL_RANGE",
	"MOTION_SAMPLE_INTERVAL", "MOTION_THRESHOLD", "MOTION_WARNING_DURATION",
	"CAPTURE_MODE", "CAPTURE_INTERVAL", "CAPTURE_TICK_INTERVAL", "MIN_RECOMMENDED_PHOTOS", "MIN_PHOTOS_BLOCKING",
	"CAMERA_BACKEND", "CAMERA_COMMAND", "CAMERA_ARGS", "CAMERA_DEVICE",
	"WORKSPACE_DIR", "THUMBNAIL_SIZE",
	"RECON_DETAIL", "RECON_ORDERING", "RECON_SENSITIVITY", "RECON_IDLE_TIMEOUT",
	"LOCATION_SOURCE", "GPS_SERIAL_PORT", "GPS_BAUD_RATE", "LOCATION_TIMEOUT",
	"CATALOG_DB",
	"WEB_SERVER_PORT", "METRICS_ADDR",
	"DISPLAY_I2C_ADDR", "DISPLAY_UPDATE_INTERVAL",
}

// Load reads the KEY=VALUE configuration file, applies environment
// overrides and defaults, and validates the result. An empty path loads
// defaults plus environment only.
func Load(configPath string) (*Config, error) {
	values := map[string]string{}
	if configPath != "" {
		var err error
		values, err = godotenv.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	for _, key := range Keys {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}
	return FromMap(values)
}

// FromMap builds a Config from already parsed KEY=VALUE pairs.
func FromMap(values map[string]string) (*Config, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cfg := &Config{}
	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_SERVICE":
		c.MQTTClientIDService = value
	case "MQTT_CLIENT_ID_ACCEL":
		c.MQTTClientIDAccel = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_GPS":
		c.TopicGPS = value
	case "TOPIC_CAPTURE_EVENTS":
		c.TopicCaptureEvents = value
	case "TOPIC_MOTION":
		c.TopicMotion = value
	case "TOPIC_RECON_REQUEST":
		c.TopicReconRequest = value
	case "TOPIC_RECON_EVENTS":
		c.TopicReconEvents = value

	// Accelerometer
	case "ACCEL_SOURCE":
		c.AccelSource = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)

	// Motion warning
	case "MOTION_SAMPLE_INTERVAL":
		c.MotionSampleInterval, err = parseDuration(key, value)
	case "MOTION_THRESHOLD":
		c.MotionThreshold, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOTION_THRESHOLD %q: %w", value, err)
		}
	case "MOTION_WARNING_DURATION":
		c.MotionWarningDuration, err = parseDuration(key, value)

	// Capture
	case "CAPTURE_MODE":
		c.CaptureMode = strings.ToLower(value)
	case "CAPTURE_INTERVAL":
		c.CaptureInterval, err = parseDuration(key, value)
	case "CAPTURE_TICK_INTERVAL":
		c.CaptureTickInterval, err = parseDuration(key, value)
	case "MIN_RECOMMENDED_PHOTOS":
		c.MinRecommendedPhotos, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MIN_RECOMMENDED_PHOTOS %q: %w", value, err)
		}
	case "MIN_PHOTOS_BLOCKING":
		c.MinPhotosBlocking, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid MIN_PHOTOS_BLOCKING %q: %w", value, err)
		}

	// Camera
	case "CAMERA_BACKEND":
		c.CameraBackend = strings.ToLower(value)
	case "CAMERA_COMMAND":
		c.CameraCommand = value
	case "CAMERA_ARGS":
		c.CameraArgs = strings.Fields(value)
	case "CAMERA_DEVICE":
		c.CameraDevice = value

	// Workspace
	case "WORKSPACE_DIR":
		c.WorkspaceDir = value
	case "THUMBNAIL_SIZE":
		c.ThumbnailSize, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid THUMBNAIL_SIZE %q: %w", value, err)
		}

	// Reconstruction
	case "RECON_DETAIL":
		c.ReconDetail = value
	case "RECON_ORDERING":
		c.ReconOrdering = value
	case "RECON_SENSITIVITY":
		c.ReconSensitivity = value
	case "RECON_IDLE_TIMEOUT":
		c.ReconIdleTimeout, err = parseDuration(key, value)

	// Location
	case "LOCATION_SOURCE":
		c.LocationSource = strings.ToLower(value)
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
	case "LOCATION_TIMEOUT":
		c.LocationTimeout, err = parseDuration(key, value)

	// Catalog
	case "CATALOG_DB":
		c.CatalogDB = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
	case "METRICS_ADDR":
		c.MetricsAddr = value

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseDuration(key, value)
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// parseDuration accepts Go durations ("1500ms", "3s") or bare milliseconds.
func parseDuration(key, value string) (time.Duration, error) {
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func (c *Config) applyDefaults() {
	if c.MQTTBroker == "" {
		c.MQTTBroker = "tcp://localhost:1883"
	}
	if c.MQTTClientIDService == "" {
		c.MQTTClientIDService = "scan-capture-service"
	}
	if c.MQTTClientIDAccel == "" {
		c.MQTTClientIDAccel = "scan-accel-producer"
	}
	if c.MQTTClientIDGPS == "" {
		c.MQTTClientIDGPS = "scan-gps-producer"
	}
	if c.MQTTClientIDConsole == "" {
		c.MQTTClientIDConsole = "scan-console-subscriber"
	}
	if c.MQTTClientIDDisplay == "" {
		c.MQTTClientIDDisplay = "scan-status-display"
	}
	if c.TopicAccel == "" {
		c.TopicAccel = "scan/accel"
	}
	if c.TopicGPS == "" {
		c.TopicGPS = "scan/gps"
	}
	if c.TopicCaptureEvents == "" {
		c.TopicCaptureEvents = "scan/capture/events"
	}
	if c.TopicMotion == "" {
		c.TopicMotion = "scan/capture/motion"
	}
	if c.TopicReconRequest == "" {
		c.TopicReconRequest = "scan/recon/request"
	}
	if c.TopicReconEvents == "" {
		c.TopicReconEvents = "scan/recon/events"
	}
	if c.AccelSource == "" {
		c.AccelSource = "mpu9250"
	}
	if c.IMUSPIDevice == "" {
		c.IMUSPIDevice = "/dev/spidev0.0"
	}
	if c.IMUCSPin == "" {
		c.IMUCSPin = "GPIO8"
	}
	if c.MotionSampleInterval == 0 {
		c.MotionSampleInterval = 50 * time.Millisecond
	}
	if c.MotionThreshold == 0 {
		c.MotionThreshold = 1.08
	}
	if c.MotionWarningDuration == 0 {
		c.MotionWarningDuration = 3 * time.Second
	}
	if c.CaptureMode == "" {
		c.CaptureMode = "manual"
	}
	if c.CaptureInterval == 0 {
		c.CaptureInterval = time.Second
	}
	if c.CaptureTickInterval == 0 {
		c.CaptureTickInterval = 100 * time.Millisecond
	}
	if c.MinRecommendedPhotos == 0 {
		c.MinRecommendedPhotos = 30
	}
	if c.CameraBackend == "" {
		c.CameraBackend = "command"
	}
	if c.CameraCommand == "" {
		c.CameraCommand = "libcamera-still"
	}
	if c.CameraDevice == "" {
		c.CameraDevice = "0"
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = "./scans"
	}
	if c.ThumbnailSize == 0 {
		c.ThumbnailSize = 256
	}
	if c.ReconDetail == "" {
		c.ReconDetail = "reduced"
	}
	if c.ReconOrdering == "" {
		c.ReconOrdering = "unordered"
	}
	if c.ReconSensitivity == "" {
		c.ReconSensitivity = "normal"
	}
	if c.ReconIdleTimeout == 0 {
		c.ReconIdleTimeout = 5 * time.Minute
	}
	if c.LocationSource == "" {
		c.LocationSource = "none"
	}
	if c.GPSSerialPort == "" {
		c.GPSSerialPort = "/dev/serial0"
	}
	if c.GPSBaudRate == 0 {
		c.GPSBaudRate = 9600
	}
	if c.LocationTimeout == 0 {
		c.LocationTimeout = 10 * time.Second
	}
	if c.CatalogDB == "" {
		c.CatalogDB = "./scans/catalog.db"
	}
	if c.WebServerPort == 0 {
		c.WebServerPort = 8080
	}
	if c.DisplayI2CAddr == 0 {
		c.DisplayI2CAddr = 0x3C
	}
	if c.DisplayUpdateInterval == 0 {
		c.DisplayUpdateInterval = 250 * time.Millisecond
	}
}

// validate checks value ranges and enumerations.
func (c *Config) validate() error {
	switch c.AccelSource {
	case "mpu9250", "mqtt", "mock", "none":
	default:
		return fmt.Errorf("ACCEL_SOURCE must be mpu9250, mqtt, mock or none, got %q", c.AccelSource)
	}
	switch c.CaptureMode {
	case "manual", "automatic", "auto":
	default:
		return fmt.Errorf("CAPTURE_MODE must be manual or automatic, got %q", c.CaptureMode)
	}
	if c.CaptureInterval <= 0 {
		return fmt.Errorf("CAPTURE_INTERVAL must be positive")
	}
	if c.MotionThreshold <= 0 {
		return fmt.Errorf("MOTION_THRESHOLD must be positive")
	}
	if c.MinRecommendedPhotos < 0 {
		return fmt.Errorf("MIN_RECOMMENDED_PHOTOS must not be negative")
	}
	switch c.CameraBackend {
	case "command", "device":
	default:
		return fmt.Errorf("CAMERA_BACKEND must be command or device, got %q", c.CameraBackend)
	}
	if c.ReconIdleTimeout < 0 {
		return fmt.Errorf("RECON_IDLE_TIMEOUT must be positive")
	}
	switch c.LocationSource {
	case "serial", "mqtt", "none":
	default:
		return fmt.Errorf("LOCATION_SOURCE must be serial, mqtt or none, got %q", c.LocationSource)
	}
	if c.GPSBaudRate < 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be positive")
	}
	if c.ThumbnailSize < 0 {
		return fmt.Errorf("THUMBNAIL_SIZE must not be negative")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	return nil
}
