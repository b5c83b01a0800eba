package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"periph.io/x/conn/v3/i2c"
)

// AHT20Address is the fixed I²C address of the AHT20.
const AHT20Address = 0x38

const (
	aht20CmdTrigger    = 0xAC
	aht20CmdInitialize = 0xBE
	aht20CmdStatus     = 0x71

	aht20StatusBusy       = 0x80
	aht20StatusCalibrated = 0x08
)

var errAHT20NotReady = errors.New("aht20: not ready")

type AHT20Config struct {
	Name    string
	Bus     i2c.Bus
	Address uint16
	// PollInterval is the pause between status polls while converting.
	PollInterval time.Duration
	// ConversionTime is waited after triggering before the first poll.
	ConversionTime time.Duration
	Temperature    *Channel
	Humidity       *Channel
}

// AHT20 is a temperature and humidity sensor on an I²C bus.
type AHT20 struct {
	name           string
	dev            *i2c.Dev
	pollInterval   time.Duration
	conversionTime time.Duration
	temperature    Channel
	humidity       Channel

	mu          sync.Mutex
	initialized bool
}

var _ Sensor = (*AHT20)(nil)

func NewAHT20(config *AHT20Config) *AHT20 {
	a := &AHT20{
		name:           config.Name,
		dev:            &i2c.Dev{Bus: config.Bus, Addr: config.Address},
		pollInterval:   config.PollInterval,
		conversionTime: config.ConversionTime,
		temperature:    TemperatureChannel,
		humidity:       HumidityChannel,
	}

	if a.name == "" {
		a.name = "aht20"
	}
	if a.dev.Addr == 0 {
		a.dev.Addr = AHT20Address
	}
	if a.pollInterval <= 0 {
		a.pollInterval = 15 * time.Millisecond
	}
	if a.conversionTime <= 0 {
		a.conversionTime = 80 * time.Millisecond
	}
	if config.Temperature != nil {
		a.temperature = *config.Temperature
	}
	if config.Humidity != nil {
		a.humidity = *config.Humidity
	}

	return a
}

func (a *AHT20) Name() string {
	return a.name
}

func (a *AHT20) Channels() []Channel {
	return []Channel{a.temperature, a.humidity}
}

func (a *AHT20) Read(ctx context.Context) ([]Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.initialize(); err != nil {
		return nil, errors.Errorf("aht20 init: %v: %w", err, ErrRead)
	}

	if err := a.dev.Tx([]byte{aht20CmdTrigger, 0x33, 0x00}, nil); err != nil {
		return nil, errors.Errorf("aht20 trigger: %v: %w", err, ErrRead)
	}

	if err := sleep(ctx, a.conversionTime); err != nil {
		return nil, errors.Errorf("aht20 conversion: %v: %w", err, ErrRead)
	}

	for {
		humidity, temperature, err := a.collect()
		if err == nil {
			return []Reading{
				{Channel: a.temperature, Value: temperature},
				{Channel: a.humidity, Value: humidity},
			}, nil
		}

		if !errors.Is(err, errAHT20NotReady) {
			return nil, errors.Errorf("aht20 collect: %v: %w", err, ErrRead)
		}

		if err := sleep(ctx, a.pollInterval); err != nil {
			return nil, errors.Errorf("aht20 conversion: %v: %w", err, ErrRead)
		}
	}
}

func (a *AHT20) initialize() error {
	if a.initialized {
		return nil
	}

	status := []byte{0}
	if err := a.dev.Tx([]byte{aht20CmdStatus}, status); err != nil {
		return err
	}

	if status[0]&aht20StatusCalibrated == 0 {
		if err := a.dev.Tx([]byte{aht20CmdInitialize, 0x08, 0x00}, nil); err != nil {
			return err
		}
	}

	a.initialized = true

	return nil
}

func (a *AHT20) collect() (float64, float64, error) {
	data := make([]byte, 7)
	if err := a.dev.Tx(nil, data); err != nil {
		return 0, 0, err
	}

	if data[0]&aht20StatusCalibrated == 0 || data[0]&aht20StatusBusy != 0 {
		return 0, 0, errAHT20NotReady
	}

	rawHumidity := uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
	rawTemperature := uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])

	humidity := float64(rawHumidity) * 100 / 0x100000
	temperature := float64(rawTemperature)*200/0x100000 - 50

	return humidity, temperature, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
