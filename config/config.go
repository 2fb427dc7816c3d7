// Package config loads and validates the miner's JSON configuration.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hadv/powminer/miner"
	"github.com/hadv/powminer/miningstate"
	"github.com/hadv/powminer/pool"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultFile is read when no --config flag is given
const DefaultFile = "miner.json"

// minPoolURLLength rejects obviously incomplete pool URLs such as "http://pool"
const minPoolURLLength = 15

var blockedPools = []string{"mine0xbtc.eu"}

var (
	ErrInvalidAddress = errors.New("no valid wallet address set in configuration")
	ErrInvalidPool    = errors.New("no valid pool URL set in configuration")
	ErrBlockedPool    = errors.New("selected pool is blocked for deceiving the community and apparent scamming, please select a different pool")
)

// CUDADevice is one entry of the "cuda" list
type CUDADevice struct {
	Device    int     `mapstructure:"device"`
	Intensity float64 `mapstructure:"intensity"`
	Enabled   bool    `mapstructure:"enabled"`
}

// OpenCLDevice is one entry of the "opencl" list
type OpenCLDevice struct {
	Platform       string  `mapstructure:"platform"`
	Device         int     `mapstructure:"device"`
	Intensity      float64 `mapstructure:"intensity"`
	ComputeVersion int     `mapstructure:"compute_version"`
}

// Config is the validated miner configuration
type Config struct {
	Address     string `mapstructure:"address"`
	Pool        string `mapstructure:"pool"`
	Token       string `mapstructure:"token"`
	CustomDiff  uint64 `mapstructure:"customdiff"`
	SubmitStale bool   `mapstructure:"submitstale"`

	Threads      int            `mapstructure:"threads"`
	SIMD         bool           `mapstructure:"simd"`
	CUDA         []CUDADevice   `mapstructure:"cuda"`
	OpenCL       []OpenCLDevice `mapstructure:"opencl"`
	CUDAKernel   string         `mapstructure:"cuda_kernel"`
	OpenCLKernel string         `mapstructure:"opencl_kernel"`

	Telemetry      string        `mapstructure:"telemetry"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SubmitInterval time.Duration `mapstructure:"submit_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// cudaSet records whether the file listed CUDA devices at all
	cudaSet bool
}

// NewViper returns a viper instance carrying the defaults
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("token", miningstate.DefaultToken)
	v.SetDefault("cuda_kernel", "kernels/hashmidstate.ptx")
	v.SetDefault("opencl_kernel", "kernels/hashmidstate.cl")
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval", pool.DefaultPollInterval)
	v.SetDefault("submit_interval", pool.DefaultSubmitInterval)
	v.SetDefault("request_timeout", 10*time.Second)
	return v
}

// Load reads path into v and returns the validated configuration
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "unable to read configuration file '%s'", path)
	}
	return Decode(v)
}

// Decode unmarshals and validates an already populated viper instance
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "malformed configuration")
	}
	c.cudaSet = v.IsSet("cuda") && len(c.CUDA) > 0

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the fields a miner cannot start without
func (c *Config) Validate() error {
	if len(c.Address) != 42 || !common.IsHexAddress(c.Address) {
		return errors.Wrapf(ErrInvalidAddress, "address %q", c.Address)
	}

	if len(c.Pool) < minPoolURLLength {
		return errors.Wrapf(ErrInvalidPool, "pool %q is too short", c.Pool)
	}
	u, err := url.Parse(c.Pool)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Wrapf(ErrInvalidPool, "pool %q", c.Pool)
	}
	for _, blocked := range blockedPools {
		if strings.Contains(c.Pool, blocked) {
			return errors.Wrapf(ErrBlockedPool, "pool %q", c.Pool)
		}
	}

	if _, err := miningstate.MaximumTarget(c.Token); err != nil {
		return err
	}
	if c.Threads < 0 {
		return errors.Errorf("threads must not be negative, got %d", c.Threads)
	}
	return nil
}

// StateOptions maps the configuration onto the mining state
func (c *Config) StateOptions() miningstate.Options {
	return miningstate.Options{
		Token:       c.Token,
		SubmitStale: c.SubmitStale,
		Address:     c.Address,
		PoolURL:     c.Pool,
	}
}

// MinerOptions maps the device sections onto solver options. Without a "cuda" list
// every visible CUDA device mines at the default intensity.
func (c *Config) MinerOptions() miner.Options {
	opts := miner.Options{
		Threads:      c.Threads,
		SIMD:         c.SIMD,
		CUDAAll:      !c.cudaSet,
		CUDAKernel:   c.CUDAKernel,
		OpenCLKernel: c.OpenCLKernel,
	}
	for _, d := range c.CUDA {
		if !d.Enabled {
			continue
		}
		opts.CUDA = append(opts.CUDA, miner.CUDAOptions{Device: d.Device, Intensity: d.Intensity})
	}
	for _, d := range c.OpenCL {
		opts.OpenCL = append(opts.OpenCL, miner.OpenCLOptions{
			Platform:       d.Platform,
			Device:         d.Device,
			Intensity:      d.Intensity,
			ComputeVersion: d.ComputeVersion,
		})
	}
	return opts
}

// PoolOptions maps the network timings onto the pool worker
func (c *Config) PoolOptions() pool.Options {
	return pool.Options{
		PollInterval:   c.PollInterval,
		SubmitInterval: c.SubmitInterval,
	}
}
