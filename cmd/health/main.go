// Sidecar probe: polls the main listener's health endpoint and reports the
// upstream state on a separate port, so orchestrators keep a target while
// the server restarts.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for the health sidecar")
	target := flag.String("target", "http://127.0.0.1:8080/healthz", "health endpoint of the main server")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			status, _, err := client.GetTimeout(nil, *target, 2*time.Second)
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				fmt.Fprintf(ctx, `{"status":"degraded","version":%q,"error":%q}`, *ver, err.Error())
				return
			}
			if status != fasthttp.StatusOK {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				fmt.Fprintf(ctx, `{"status":"degraded","version":%q,"upstream":%d}`, *ver, status)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			fmt.Fprintf(ctx, `{"status":"ok","version":%q,"upstream":%d}`, *ver, status)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health sidecar listening on %s, watching %s\n", *addr, *target)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "parley-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("health sidecar exit: %v\n", err)
	}
}
