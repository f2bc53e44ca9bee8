package cetty

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"cetty/buffer"
	"cetty/errors"
	"cetty/internal/netpoll"
	"cetty/internal/reuseport"
)

// Channel option keys.
const (
	OptionConnectTimeoutMillis = "connectTimeoutMillis"
	OptionBufferFactory        = "bufferFactory"
	OptionWriteSpinCount       = "writeSpinCount"
	OptionTCPNoDelay           = "tcpNoDelay"
	OptionKeepAlive            = "keepAlive"
	OptionReuseAddress         = "reuseAddress"
	OptionReusePort            = "reusePort"
	OptionReceiveBufferSize    = "receiveBufferSize"
	OptionSendBufferSize       = "sendBufferSize"
	OptionBacklog              = "backlog"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultWriteSpinCount = 16
)

// Config is the configuration of a channel. Options are set by string key; an unknown key
// is reported by a false result and a value of the wrong type by ErrInvalidArgument.
type Config interface {
	SetOption(key string, value interface{}) (bool, error)
	SetOptions(options map[string]interface{}) error
	Option(key string) (interface{}, bool)
	ConnectTimeout() time.Duration
	BufferFactory() buffer.Factory
	WriteSpinCount() int
}

// ChannelConfig holds the options every channel understands.
type ChannelConfig struct {
	mu             sync.RWMutex
	connectTimeout time.Duration
	factory        buffer.Factory
	writeSpinCount int
}

// NewChannelConfig returns a config with default values.
func NewChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		connectTimeout: defaultConnectTimeout,
		factory:        buffer.DefaultFactory,
		writeSpinCount: defaultWriteSpinCount,
	}
}

// SetOption implements Config.
func (c *ChannelConfig) SetOption(key string, value interface{}) (bool, error) {
	switch key {
	case OptionConnectTimeoutMillis:
		d, err := toDuration(key, value)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.connectTimeout = d
		c.mu.Unlock()
	case OptionBufferFactory:
		f, ok := value.(buffer.Factory)
		if !ok || f == nil {
			return false, invalidOption(key, "a buffer.Factory", value)
		}
		c.mu.Lock()
		c.factory = f
		c.mu.Unlock()
	case OptionWriteSpinCount:
		n, err := toInt(key, value)
		if err != nil {
			return false, err
		}
		if n <= 0 {
			return false, invalidOption(key, "a positive count", value)
		}
		c.mu.Lock()
		c.writeSpinCount = n
		c.mu.Unlock()
	default:
		return false, nil
	}
	return true, nil
}

// SetOptions implements Config.
func (c *ChannelConfig) SetOptions(options map[string]interface{}) error {
	return setOptions(c, options)
}

// Option implements Config.
func (c *ChannelConfig) Option(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch key {
	case OptionConnectTimeoutMillis:
		return c.connectTimeout.Milliseconds(), true
	case OptionBufferFactory:
		return c.factory, true
	case OptionWriteSpinCount:
		return c.writeSpinCount, true
	}
	return nil, false
}

// ConnectTimeout implements Config. Zero disables the timeout.
func (c *ChannelConfig) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

// BufferFactory implements Config.
func (c *ChannelConfig) BufferFactory() buffer.Factory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.factory
}

// WriteSpinCount implements Config.
func (c *ChannelConfig) WriteSpinCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writeSpinCount
}

// SocketConfig adds TCP socket options to ChannelConfig. Options set before the socket
// exists are applied when it is created.
type SocketConfig struct {
	*ChannelConfig
	fd          atomic.Int32
	noDelay     atomic.Bool
	keepAlive   atomic.Int64 // period in nanoseconds, 0 when disabled
	reuseAddr   atomic.Bool
	reusePort   atomic.Bool
	recvBufSize atomic.Int32
	sendBufSize atomic.Int32
	backlog     atomic.Int32
}

// NewSocketConfig returns a socket config with default values.
func NewSocketConfig() *SocketConfig {
	c := &SocketConfig{ChannelConfig: NewChannelConfig()}
	c.fd.Store(-1)
	c.noDelay.Store(true)
	c.reuseAddr.Store(true)
	c.backlog.Store(int32(reuseport.MaxListenerBacklog()))
	return c
}

// SetOption implements Config.
func (c *SocketConfig) SetOption(key string, value interface{}) (bool, error) {
	switch key {
	case OptionTCPNoDelay, OptionReuseAddress, OptionReusePort:
		b, ok := value.(bool)
		if !ok {
			return false, invalidOption(key, "a bool", value)
		}
		switch key {
		case OptionTCPNoDelay:
			c.noDelay.Store(b)
		case OptionReuseAddress:
			c.reuseAddr.Store(b)
		case OptionReusePort:
			c.reusePort.Store(b)
		}
	case OptionKeepAlive:
		var d time.Duration
		switch v := value.(type) {
		case bool:
			if v {
				d = 15 * time.Second
			}
		case time.Duration:
			d = v
		default:
			return false, invalidOption(key, "a bool or a time.Duration", value)
		}
		// The kernel counts keep-alive periods in whole seconds.
		if d < 0 || d > 0 && d < time.Second {
			return false, invalidOption(key, "zero or a period of at least one second", value)
		}
		c.keepAlive.Store(int64(d))
	case OptionReceiveBufferSize, OptionSendBufferSize, OptionBacklog:
		n, err := toInt(key, value)
		if err != nil {
			return false, err
		}
		if n <= 0 {
			return false, invalidOption(key, "a positive size", value)
		}
		switch key {
		case OptionReceiveBufferSize:
			c.recvBufSize.Store(int32(n))
		case OptionSendBufferSize:
			c.sendBufSize.Store(int32(n))
		case OptionBacklog:
			c.backlog.Store(int32(n))
		}
	default:
		return c.ChannelConfig.SetOption(key, value)
	}
	if fd := int(c.fd.Load()); fd >= 0 {
		return true, c.applyOption(fd, key)
	}
	return true, nil
}

// SetOptions implements Config.
func (c *SocketConfig) SetOptions(options map[string]interface{}) error {
	return setOptions(c, options)
}

// Option implements Config.
func (c *SocketConfig) Option(key string) (interface{}, bool) {
	switch key {
	case OptionTCPNoDelay:
		return c.noDelay.Load(), true
	case OptionKeepAlive:
		return time.Duration(c.keepAlive.Load()), true
	case OptionReuseAddress:
		return c.reuseAddr.Load(), true
	case OptionReusePort:
		return c.reusePort.Load(), true
	case OptionReceiveBufferSize:
		return int(c.recvBufSize.Load()), true
	case OptionSendBufferSize:
		return int(c.sendBufSize.Load()), true
	case OptionBacklog:
		return int(c.backlog.Load()), true
	}
	return c.ChannelConfig.Option(key)
}

// ReusePort reports whether listeners set SO_REUSEPORT.
func (c *SocketConfig) ReusePort() bool { return c.reusePort.Load() }

// Backlog returns the listen backlog.
func (c *SocketConfig) Backlog() int { return int(c.backlog.Load()) }

// attach applies every socket option to fd and keeps applying later changes to it.
func (c *SocketConfig) attach(fd int, stream bool) error {
	c.fd.Store(int32(fd))
	keys := []string{OptionReuseAddress, OptionReceiveBufferSize, OptionSendBufferSize}
	if stream {
		keys = append(keys, OptionTCPNoDelay, OptionKeepAlive)
	}
	var err error
	for _, key := range keys {
		err = multierr.Append(err, c.applyOption(fd, key))
	}
	return err
}

func (c *SocketConfig) detach() { c.fd.Store(-1) }

func (c *SocketConfig) applyOption(fd int, key string) error {
	switch key {
	case OptionTCPNoDelay:
		return netpoll.SetNoDelay(fd, c.noDelay.Load())
	case OptionKeepAlive:
		if d := time.Duration(c.keepAlive.Load()); d > 0 {
			return netpoll.SetKeepAlive(fd, d)
		}
	case OptionReuseAddress:
		return netpoll.SetReuseAddr(fd, c.reuseAddr.Load())
	case OptionReceiveBufferSize:
		if n := int(c.recvBufSize.Load()); n > 0 {
			return netpoll.SetRecvBuffer(fd, n)
		}
	case OptionSendBufferSize:
		if n := int(c.sendBufSize.Load()); n > 0 {
			return netpoll.SetSendBuffer(fd, n)
		}
	}
	return nil
}

// setOptions applies every option, failing on the first unknown key or invalid value.
func setOptions(c Config, options map[string]interface{}) error {
	for key, value := range options {
		ok, err := c.SetOption(key, value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown option %q", errors.ErrInvalidArgument, key)
		}
	}
	return nil
}

func invalidOption(key, want string, value interface{}) error {
	return fmt.Errorf("%w: option %s expects %s, got %T", errors.ErrInvalidArgument, key, want, value)
}

func toInt(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	}
	return 0, invalidOption(key, "an integer", value)
}

// toDuration reads integers as milliseconds.
func toDuration(key string, value interface{}) (time.Duration, error) {
	if d, ok := value.(time.Duration); ok {
		if d < 0 {
			return 0, invalidOption(key, "a non-negative timeout", value)
		}
		return d, nil
	}
	n, err := toInt(key, value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, invalidOption(key, "a non-negative timeout", value)
	}
	return time.Duration(n) * time.Millisecond, nil
}
