package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/zhihanii/zlog"
	"github.com/zhihanii/zsel"
)

func main() {
	var (
		network   = pflag.StringP("network", "n", "tcp", "network to dial: tcp, udp or unix")
		addr      = pflag.StringP("addr", "a", "127.0.0.1:8080", "address to dial")
		data      = pflag.StringP("data", "d", "", "payload to send, overrides --size")
		size      = pflag.IntP("size", "s", 1<<20, "number of bytes to send")
		timeout   = pflag.DurationP("timeout", "t", 5*time.Second, "wait bound for each stall")
		selectors = pflag.Int("selectors", 4, "max temporary selectors")
	)
	pflag.Parse()

	if err := run(*network, *addr, *data, *size, *timeout, *selectors); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(network, addr, data string, size int, timeout time.Duration, selectors int) error {
	nc, err := net.Dial(network, addr)
	if err != nil {
		return err
	}

	var t = zsel.NewTransport(zsel.WithMaxSelectors(selectors), zsel.WithWriteTimeout(timeout))
	defer t.Close()

	conn, err := t.Wrap(nc)
	if err != nil {
		nc.Close()
		return err
	}
	defer conn.Close()

	var msg = zsel.NewBuffer(size)
	if data != "" {
		msg.WriteString(data)
	} else {
		msg.Write(bytes.Repeat([]byte{'z'}, size))
	}

	var start = time.Now()
	conn.Write(msg, zsel.CompletionFuncs[*zsel.WriteResult]{
		OnCompleted: func(r *zsel.WriteResult) {
			zlog.Infof("wrote %d bytes to %s in %s", r.Written, conn.RemoteAddr(), time.Since(start))
		},
		OnFailed: func(e error) {
			err = e
		},
	})
	if err != nil {
		msg.Release()
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}
