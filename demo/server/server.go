package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cetty"
	"cetty/buffer"
	"cetty/internal/logging"
)

func main() {
	var (
		port      int
		multicore bool
		reuse     int
	)
	flag.IntVar(&port, "port", 8848, "server port")
	flag.BoolVar(&multicore, "multicore", false, "one event-loop per core")
	flag.IntVar(&reuse, "reuse", 0, "closed connections kept for reuse")
	flag.Parse()
	defer logging.Cleanup()

	echo := cetty.Initializer(func(ch cetty.Channel) error {
		return ch.Pipeline().AddLast("echo", cetty.NewSimpleInboundHandler(func(ctx *cetty.HandlerContext, msg *buffer.Buffer) error {
			ctx.Channel().Write(msg.Retain())
			return nil
		}))
	})
	b := cetty.NewServerBootstrap(
		cetty.WithChildInitializer(echo),
		cetty.WithChildOption(cetty.OptionTCPNoDelay, true),
		cetty.WithGroupOptions(cetty.WithMulticore(multicore)),
		cetty.WithReusableChildChannels(reuse),
	)
	f := b.Bind(fmt.Sprintf(":%d", port))
	if err := f.Sync(); err != nil {
		logging.DefaultLogger.Fatalf("bind: %v", err)
	}
	logging.DefaultLogger.Infof("echo server is listening on %v", f.Channel().LocalAddr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	if err := b.Shutdown(); err != nil {
		logging.DefaultLogger.Errorf("shutdown: %v", err)
	}
}
