package main

import (
	"flag"
	"time"

	"cetty"
	"cetty/buffer"
	"cetty/codec"
	"cetty/codec/frame"
	"cetty/internal/logging"
)

func main() {
	var (
		addr    string
		msg     string
		timeout time.Duration
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8848", "server address")
	flag.StringVar(&msg, "msg", "hello, world", "message to send")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "time to wait for the echo")
	flag.Parse()
	defer logging.Cleanup()

	replies := make(chan string, 1)
	initializer := cetty.Initializer(func(ch cetty.Channel) error {
		decoder, err := frame.NewLengthFieldBasedFrameDecoder(1<<20, 0, 4, frame.WithInitialBytesToStrip(4))
		if err != nil {
			return err
		}
		prepender, err := frame.NewLengthFieldPrepender(4)
		if err != nil {
			return err
		}
		p := ch.Pipeline()
		if err = p.AddLast("frameDecoder", codec.NewByteToMessageDecoder(decoder)); err != nil {
			return err
		}
		if err = p.AddLast("frameEncoder", codec.NewMessageToByteEncoder(prepender)); err != nil {
			return err
		}
		return p.AddLast("reply", cetty.NewSimpleInboundHandler(func(_ *cetty.HandlerContext, b *buffer.Buffer) error {
			replies <- string(b.Bytes())
			return nil
		}))
	})

	b := cetty.NewBootstrap(
		cetty.WithInitializer(initializer),
		cetty.WithChannelOption(cetty.OptionConnectTimeoutMillis, 3000),
	)
	defer func() { _ = b.Shutdown() }()

	f := b.Connect(addr)
	if err := f.Sync(); err != nil {
		logging.DefaultLogger.Errorf("connect: %v", err)
		return
	}
	ch := f.Channel()
	if err := ch.Write(msg).Sync(); err != nil {
		logging.DefaultLogger.Errorf("write: %v", err)
		return
	}
	select {
	case reply := <-replies:
		logging.DefaultLogger.Infof("echo: %s", reply)
	case <-time.After(timeout):
		logging.DefaultLogger.Warnf("no echo within %v", timeout)
	}
	ch.Close().AwaitUninterruptibly()
}
