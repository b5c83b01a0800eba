package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultConfigFilename = "fotad.conf"
	defaultDataDir        = "/var/lib/fotad"
	defaultNet            = "wifi"
	defaultMachine        = "linux"
	defaultServer         = "ws://localhost:8080/ws"
	defaultStopTimeout    = 10 * time.Second
	defaultSensorInterval = 5 * time.Second
	defaultRetryInterval  = 2 * time.Second
	defaultRefresh        = time.Second
)

// Compiled-in wireless defaults. They can be replaced with -ldflags.
var (
	DefaultSSID     = ""
	DefaultPass     = ""
	DefaultSecurity = "WPA/WPA2"
)

type logFileConfig struct {
	MaxSize    int `long:"maxsize" description:"Maximum size of the log file in megabytes before it is rotated"`
	MaxBackups int `long:"maxbackups" description:"Maximum number of rotated log files to keep"`
	MaxAge     int `long:"maxage" description:"Maximum number of days to keep rotated log files"`
}

type netConfig struct {
	RetryInterval time.Duration `long:"retryinterval" description:"Pause between two connection attempts"`
}

type wifiConfig struct {
	Interface string `long:"interface" description:"Wireless interface managed by wpa_supplicant"`
	SSID      string `long:"ssid" description:"Default network name, used when none is stored"`
	Pass      string `long:"pass" description:"Default passphrase, used when none is stored"`
	Security  string `long:"security" description:"Default security mode (WPA/WPA2, WPA2, WPA, WEP, NONE)"`
}

type ethernetConfig struct {
	Interface string `long:"interface" description:"Wired interface"`
}

type cloudConfig struct {
	Server            string        `long:"server" description:"Websocket URL of the update management server"`
	ReconnectInterval time.Duration `long:"reconnectinterval" description:"Initial pause before reconnecting to the server"`
}

type updateConfig struct {
	StopTimeout time.Duration `long:"stoptimeout" description:"How long to wait for the sensors to stop before a download"`
	TargetPath  string        `long:"target" description:"File replaced by a firmware image, defaults to the running executable"`
	DownloadDir string        `long:"downloaddir" description:"Directory receiving firmware images"`
	DryRun      bool          `long:"dryrun" description:"Verify firmware images without installing them"`
}

type sensorsConfig struct {
	ConfigFile string        `long:"config" description:"YAML file describing the sensors"`
	Interval   time.Duration `long:"interval" description:"Default sample interval"`
	Mock       bool          `long:"mock" description:"Replace every sensor with a mock producing the same quantities"`
}

type apiConfig struct {
	Listen string `long:"listen" description:"Address of the local status API, empty disables it"`
}

type machineConfig struct {
	IndicatorPin string `long:"indicatorpin" description:"GPIO driving the update failure LED"`
}

type provisionConfig struct {
	Wipe bool `long:"wipe" description:"Delete the device identity and create a new one"`
}

type config struct {
	ShowVersion bool          `short:"v" long:"version" description:"Display version information and exit"`
	Debug       bool          `long:"debug" description:"Start in debug mode"`
	ConfigFile  string        `long:"configfile" description:"Path to configuration file"`
	DataDir     string        `long:"datadir" description:"The directory to store fotad's data within"`
	LogFile     string        `long:"logfile" description:"Also write logs to this file, rotating it"`
	Net         string        `long:"net" description:"The network transport" choice:"wifi" choice:"ethernet" choice:"mock"`
	Machine     string        `long:"machine" description:"The host to run on" choice:"linux" choice:"mock"`
	Console     bool          `long:"console" description:"Run the maintenance console on stdin"`
	Refresh     time.Duration `long:"refresh" description:"Display refresh interval"`

	Log       *logFileConfig   `group:"Log" namespace:"log"`
	Network   *netConfig       `group:"Net" namespace:"net"`
	Wifi      *wifiConfig      `group:"Wifi" namespace:"wifi"`
	Ethernet  *ethernetConfig  `group:"Ethernet" namespace:"ethernet"`
	Cloud     *cloudConfig     `group:"Cloud" namespace:"cloud"`
	Update    *updateConfig    `group:"Update" namespace:"update"`
	Sensors   *sensorsConfig   `group:"Sensors" namespace:"sensors"`
	Api       *apiConfig       `group:"API" namespace:"api"`
	Host      *machineConfig   `group:"Machine" namespace:"machine"`
	Provision *provisionConfig `group:"Provision" namespace:"provision"`
}

func defaultConfig() config {
	return config{
		DataDir: defaultDataDir,
		Net:     defaultNet,
		Machine: defaultMachine,
		Refresh: defaultRefresh,
		Log: &logFileConfig{
			MaxSize:    5,
			MaxBackups: 10,
			MaxAge:     30,
		},
		Network: &netConfig{
			RetryInterval: defaultRetryInterval,
		},
		Wifi: &wifiConfig{
			Interface: "wlan0",
			SSID:      DefaultSSID,
			Pass:      DefaultPass,
			Security:  DefaultSecurity,
		},
		Ethernet: &ethernetConfig{
			Interface: "eth0",
		},
		Cloud: &cloudConfig{
			Server:            defaultServer,
			ReconnectInterval: time.Second,
		},
		Update: &updateConfig{
			StopTimeout: defaultStopTimeout,
		},
		Sensors: &sensorsConfig{
			Interval: defaultSensorInterval,
		},
		Api:       &apiConfig{},
		Host:      &machineConfig{},
		Provision: &provisionConfig{},
	}
}

// loadConfig parses the command line, then the config file it points to and
// finally the command line again so flags win over the file.
func loadConfig() (*config, error) {
	preCfg := defaultConfig()

	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	cfg := preCfg

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}

	parser := flags.NewParser(&cfg, flags.Default)

	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok || preCfg.ConfigFile != "" {
			return nil, errors.WithMessagef(err, "could not read config file %v", configFile)
		}
	}

	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
