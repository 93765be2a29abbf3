// Command modbeenode runs one ModBee node against a real RS-485 serial
// port, demonstrating the host API: bind a few registers, connect to
// the ring, and drive the tick loop on a wall-clock timer.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modbee/modbee"
	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/diag"
	"github.com/modbee/modbee/transport/serialbus"
)

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial port device")
	baud := flag.Int("baud", 115200, "serial baud rate")
	nodeID := flag.Int("id", 1, "this node's ModBee address (1-250)")
	iniPath := flag.String("config", "", "optional modbee.ini timing override file")
	tickEvery := flag.Duration("tick", 2*time.Millisecond, "tick period")
	flag.Parse()

	cfg := config.Default()
	if *iniPath != "" {
		loaded, err := config.LoadFile(cfg, *iniPath)
		if err != nil {
			log.Fatalf("[MAIN] loading config %s: %v", *iniPath, err)
		}
		cfg = loaded
	}

	bus, err := serialbus.Open(serialbus.DefaultOptions(*port, *baud))
	if err != nil {
		log.Fatalf("[MAIN] opening serial port: %v", err)
	}
	defer bus.Close()

	node := modbee.NewNode(cfg)
	node.OnError(func(e diag.Event) {
		log.WithField("node", e.NodeID).Warnf("[MAIN] %s: %s", e.Category, e.Message)
	})
	node.OnDebug(func(e diag.Event) {
		log.WithField("node", e.NodeID).Debugf("[MAIN] %s: %s", e.Category, e.Message)
	})

	if err := node.Begin(bus, uint8(*nodeID)); err != nil {
		log.Fatalf("[MAIN] begin: %v", err)
	}

	var holding [4]int16
	var coils [8]bool
	node.BindHreg(0, &holding[0])
	node.BindHreg(1, &holding[1])
	node.BindHreg(2, &holding[2])
	node.BindHreg(3, &holding[3])
	for i := range coils {
		node.BindCoil(uint16(i), &coils[i])
	}

	node.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*tickEvery)
	defer ticker.Stop()

	last := time.Now()
	log.WithField("node", *nodeID).Info("[MAIN] node running")
	for {
		select {
		case now := <-ticker.C:
			if err := node.Tick(now.Sub(last), now); err != nil {
				log.WithField("node", *nodeID).Warnf("[MAIN] tick: %v", err)
			}
			last = now
		case <-sigCh:
			node.Disconnect()
			if err := node.Tick(0, time.Now()); err != nil {
				log.WithField("node", *nodeID).Warnf("[MAIN] final tick: %v", err)
			}
			log.Info("[MAIN] shutting down")
			return
		}
	}
}
