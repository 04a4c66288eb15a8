package remote

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/state"
)

// Simulator feeds temperature and humidity readings into a Node, the way a
// DHT11 board on the home network would. Readings wander around the
// defaults and stay inside the sensor's range.
type Simulator struct {
	node     *Node
	users    []string
	interval time.Duration
	clock    clock.Clock
	rng      *rand.Rand
	log      *zap.SugaredLogger

	temp     float64
	humidity float64
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithSimulatorClock sets the ticker source.
func WithSimulatorClock(c clock.Clock) SimulatorOption {
	return func(s *Simulator) { s.clock = c }
}

// WithSimulatorSeed makes the readings reproducible.
func WithSimulatorSeed(seed uint64) SimulatorOption {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSimulatorLogger sets the logger.
func WithSimulatorLogger(l *zap.SugaredLogger) SimulatorOption {
	return func(s *Simulator) { s.log = l }
}

// NewSimulator publishes a reading for each of users every interval. With
// no users it feeds every user the node knows at each tick.
func NewSimulator(node *Node, users []string, interval time.Duration, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		node:     node,
		users:    append([]string(nil), users...),
		interval: interval,
		temp:     state.DefaultTemperature,
		humidity: state.DefaultHumidity,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

// Run publishes readings until ctx ends.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.log.Infow("Sensor simulation started", "users", s.users, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick publishes one reading to every user.
func (s *Simulator) Tick() {
	s.temp = clamp(s.temp+(s.rng.Float64()-0.5)*2, 0, 50)
	s.humidity = clamp(s.humidity+(s.rng.Float64()-0.5)*5, 20, 90)

	users := s.users
	if len(users) == 0 {
		users = s.node.Users()
	}
	temp, hum := round1(s.temp), round1(s.humidity)
	for _, u := range users {
		s.node.Set(u, PathTemperature, temp)
		s.node.Set(u, PathHumidity, hum)
	}
	s.log.Debugw("Sensor reading", "temperature", temp, "humidity", hum)
}

// Reading returns the last published values.
func (s *Simulator) Reading() (temperature, humidity float64) {
	return round1(s.temp), round1(s.humidity)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
