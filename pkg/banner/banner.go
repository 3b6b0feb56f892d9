package banner

import (
	"fmt"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print writes the startup banner with the effective listen address, store
// path, bus mode and build version.
func Print(addr, dbPath, busMode, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if busMode == "" {
		busMode = "inmem"
	}
	fmt.Printf("Bus:      %s\n", busMode)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /ws - websocket session (bind, join, send, edit, delete, react, page)")
	fmt.Println("GET  /v1/conversations - inbox with previews and online counts")
	fmt.Println("GET  /v1/conversations/{id}/messages?before=<pos>&limit=<n> - history pages")
	fmt.Println("GET  /v1/conversations/{id}/roster - joined identities")
	fmt.Println("DELETE /v1/conversations/{id} - purge a conversation")
}
