// Binary rpiq prepares Raspberry Pi SD-card images for the QEMU
// emulator and back: injecting the device naming rule and SSH keys,
// growing the root filesystem, booting the result, and reverting the
// changes before the image goes onto a real SD card.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/raspbian-qemu/tools/rpiq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := (rpiq.Context{
		Args: os.Args[1:],
	}).Execute(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}
