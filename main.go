package main

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/the-lightning-land/fotad/api"
	"github.com/the-lightning-land/fotad/cloud"
	"github.com/the-lightning-land/fotad/console"
	"github.com/the-lightning-land/fotad/display"
	"github.com/the-lightning-land/fotad/fota"
	"github.com/the-lightning-land/fotad/keystore"
	"github.com/the-lightning-land/fotad/machine"
	"github.com/the-lightning-land/fotad/network"
	"github.com/the-lightning-land/fotad/provision"
	"github.com/the-lightning-land/fotad/sensor"
	"github.com/the-lightning-land/fotad/updater"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
	// date stores the date of this build. This should be set using -ldflags during compilation.
	Date string
)

const shutdownTimeout = 10 * time.Second

func subsystem(name string) *log.Entry {
	return log.WithField("system", name)
}

// fotadMain is the true entry point for fotad. This is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit() is called.
func fotadMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// Load CLI configuration and defaults
	cfg, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.ToSlash(cfg.LogFile),
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   true,
		}))
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	log.Debug("Loaded config.")

	// Print version of the daemon
	log.Infof("Version %s (commit %s)", Version, Commit)
	log.Infof("Built on %s", Date)

	// Stop here if only version was requested
	if cfg.ShowVersion {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// fotad.db persistently stores credentials, the device identity and
	// the outcome of the last update
	store, err := keystore.Open(cfg.DataDir)
	if err != nil {
		return errors.Errorf("Could not open fotad.db: %v", err)
	}

	log.Infof("Opened %v", store.Path())

	defer func() {
		err := store.Close()
		if err != nil {
			log.Errorf("Could not close fotad.db: %v", err)
		} else {
			log.Info("Closed fotad.db.")
		}
	}()

	record, err := store.GetUpdateRecord()
	if err != nil {
		log.Warnf("Could not read last update record: %v", err)
	} else if record != nil {
		log.Infof("Last update from %v ended in state %v at %v", record.URL, record.State, record.UpdatedAt)
		if record.Error != "" {
			log.Warnf("Last update failed: %v", record.Error)
		}
	}

	// The host, which reboots and drives the failure indicator
	var m machine.Machine

	switch cfg.Machine {
	case "linux":
		m = machine.NewLinuxMachine(&machine.LinuxConfig{
			IndicatorPin: cfg.Host.IndicatorPin,
			Logger:       subsystem("machine"),
		})

		log.Infof("Created Linux machine with indicator pin %v.", cfg.Host.IndicatorPin)
	case "mock":
		m = machine.NewMockMachine(subsystem("machine"))

		log.Info("Created a mock machine.")
	default:
		return errors.Errorf("Unknown machine type %v", cfg.Machine)
	}

	if err := m.Start(); err != nil {
		return errors.Errorf("Could not start machine: %v", err)
	}

	defer func() {
		err := m.Stop()
		if err != nil {
			log.Errorf("Could not properly stop machine: %v", err)
		} else {
			log.Infof("Stopped machine.")
		}
	}()

	panel := display.NewPanel(&display.Config{
		Version:   Version,
		Indicator: m,
		Logger:    subsystem("display"),
	})

	go panel.Run(ctx, cfg.Refresh)

	// The network transport, which all other components depend on
	var transport network.Transport

	switch cfg.Net {
	case "wifi":
		transport = network.NewWirelessTransport(&network.WirelessConfig{
			Interface: cfg.Wifi.Interface,
			Logger:    subsystem("wifi"),
		})

		log.Infof("Created wireless transport on %v.", cfg.Wifi.Interface)
	case "ethernet":
		transport = network.NewWiredTransport(&network.WiredConfig{
			Interface: cfg.Ethernet.Interface,
			Logger:    subsystem("ethernet"),
		})

		log.Infof("Created wired transport on %v.", cfg.Ethernet.Interface)
	case "mock":
		transport = &network.MockTransport{}

		log.Info("Created a mock transport.")
	default:
		return errors.Errorf("Unknown networking type %v", cfg.Net)
	}

	security, ok := network.ParseSecurity(cfg.Wifi.Security)
	if !ok {
		log.Warnf("Unknown default security mode %v, using %v", cfg.Wifi.Security, security)
	}

	session := network.NewSession(&network.Config{
		Transport: transport,
		Store:     store,
		Defaults: network.Credentials{
			SSID:       cfg.Wifi.SSID,
			Passphrase: cfg.Wifi.Pass,
			Security:   security,
		},
		Display:       panel,
		Logger:        subsystem("network"),
		RetryInterval: cfg.Network.RetryInterval,
	})

	// blocks until connected
	if err := session.Connect(ctx); err != nil {
		return errors.WithMessage(err, "could not connect to the network")
	}

	defer func() {
		err := session.Disconnect()
		if err != nil {
			log.Errorf("Could not properly disconnect: %v", err)
		}
	}()

	identity, err := provision.Provision(store, &provision.Options{
		Wipe:   cfg.Provision.Wipe,
		Logger: subsystem("provision"),
	})
	if err != nil {
		return errors.WithMessage(err, "device is not provisioned")
	}

	log.Infof("Device endpoint is %v", identity.ID)

	// The resource model is complete before the registration is requested
	resources := cloud.NewResources()

	specs, closers, err := openSensors(cfg.Sensors, resources)
	for _, closer := range closers {
		defer closer.Close()
	}
	if err != nil {
		return err
	}

	supervisor := sensor.NewSupervisor(&sensor.Config{
		Publisher: resources,
		Display:   panel,
		Logger:    subsystem("sensor"),
		Interval:  cfg.Sensors.Interval,
	})

	if err := supervisor.StartAll(specs); err != nil {
		return errors.WithMessage(err, "could not start sensors")
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := supervisor.StopAll(ctx)
		if err != nil {
			log.Errorf("Could not stop sensors: %v", err)
		}
	}()

	downloadDir := cfg.Update.DownloadDir
	if downloadDir == "" {
		downloadDir = cfg.DataDir
	}

	client := cloud.NewWebsocketClient(&cloud.ClientConfig{
		URL: cfg.Cloud.Server,
		Updater: updater.New(&updater.Config{
			TargetPath:  cfg.Update.TargetPath,
			DownloadDir: downloadDir,
			DryRun:      cfg.Update.DryRun,
			Logger:      subsystem("updater"),
		}),
		Machine:           m,
		Records:           store,
		ReconnectInterval: cfg.Cloud.ReconnectInterval,
		Logger:            subsystem("cloud"),
	})

	resources.Observe(client.Notify)

	controller := fota.NewController(&fota.Config{
		Sensors:     supervisor,
		Network:     session,
		Replier:     client,
		Display:     panel,
		Logger:      subsystem("fota"),
		StopTimeout: cfg.Update.StopTimeout,
	})

	registration := cloud.NewRegistration(&cloud.RegistrationConfig{
		Client:     client,
		Controller: controller,
		Resources:  resources,
		Display:    panel,
		Endpoint:   identity.ID,
		Logger:     subsystem("registration"),
	})

	if err := registration.Register(); err != nil {
		return errors.WithMessage(err, "could not register")
	}

	defer func() {
		err := client.Close()
		if err != nil {
			log.Errorf("Could not close cloud client: %v", err)
		}
	}()

	if cfg.Console {
		c := console.New(&console.Config{
			Store:   store,
			Machine: m,
			In:      os.Stdin,
			Out:     os.Stdout,
			Logger:  subsystem("console"),
		})

		go func() {
			if err := c.Run(ctx); err != nil {
				log.Errorf("Console stopped: %v", err)
			}
		}()

		log.Info("Started console.")
	}

	if cfg.Api.Listen != "" {
		listener, err := net.Listen("tcp", cfg.Api.Listen)
		if err != nil {
			return errors.Errorf("Could not listen on %v: %v", cfg.Api.Listen, err)
		}

		defer listener.Close()

		a := api.New(&api.Config{
			Updates:   controller,
			Network:   session,
			Cloud:     registration,
			Panel:     panel,
			Resources: resources,
			Log:       subsystem("api"),
		})

		go func() {
			if err := a.Serve(listener); err != nil {
				log.Debugf("API stopped: %v", err)
			}
		}()

		log.Infof("Serving API on %v", listener.Addr())
	}

	// blocks until a signal arrives
	<-ctx.Done()

	log.Info("Received a signal, stopping fotad...")

	return nil
}

// openSensors opens the configured sensors and adds their resources. The
// returned closers must be closed even when an error is returned.
func openSensors(cfg *sensorsConfig, resources *cloud.Resources) ([]sensor.Spec, []io.Closer, error) {
	definitions := sensor.DefaultDefinitions()

	if cfg.ConfigFile != "" {
		loaded, err := sensor.LoadDefinitions(cfg.ConfigFile)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "could not load sensors")
		}
		definitions = loaded
	}

	var (
		specs   []sensor.Spec
		closers []io.Closer
	)

	for _, definition := range definitions {
		if cfg.Mock {
			definition = definition.Mock()
		}

		s, closer, err := definition.Open()
		if err != nil {
			return specs, closers, errors.WithMessagef(err, "could not open sensor %v", definition.Name)
		}

		closers = append(closers, closer)

		for _, channel := range s.Channels() {
			err := resources.Add(cloud.Resource{
				Path:       channel.Path,
				Name:       channel.Name,
				Type:       cloud.TypeFloat,
				Observable: true,
				Operation:  cloud.OperationGet,
			})
			if err != nil {
				return specs, closers, errors.WithMessagef(err, "sensor %v", definition.Name)
			}
		}

		log.Infof("Opened %v sensor %v", definition.Driver, definition.Name)

		specs = append(specs, sensor.Spec{
			Sensor:   s,
			Interval: definition.Interval,
		})
	}

	return specs, closers, nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := fotadMain(); err != nil {
		log.WithError(err).Println("Failed running fotad.")
		os.Exit(1)
	}
}
