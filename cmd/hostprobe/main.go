package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kardianos/service"
	"github.com/stone-age-io/hostprobe/internal/agent"
	"github.com/stone-age-io/hostprobe/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// program adapts the agent to the kardianos service interface so the probe
// can run as a systemd unit, launchd daemon, or Windows service.
type program struct {
	configPath string
	agent      *agent.Agent
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.agent = a

	// Run blocks; the service manager expects Start to return promptly.
	go func() {
		if err := a.Run(); err != nil {
			log.Printf("agent exited: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent != nil {
		return p.agent.Shutdown()
	}
	return nil
}

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "path to config file")
	once := flag.Bool("once", false, "collect one snapshot per host, print JSON, and exit")
	host := flag.String("host", "", "with -once, restrict collection to this named host")
	svcAction := flag.String("service", "", "service control action: install, uninstall, start, stop")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("hostprobe", version)
		return
	}

	if *once {
		a, err := agent.New(*configPath, version)
		if err != nil {
			log.Fatalf("failed to start: %v", err)
		}
		err = a.RunOnce(*host)
		_ = a.Shutdown()
		if err != nil {
			log.Fatalf("collection failed: %v", err)
		}
		return
	}

	svcConfig := &service.Config{
		Name:        "hostprobe",
		DisplayName: "Hostprobe Telemetry Agent",
		Description: "Collects CPU, memory, disk, and process telemetry from remote hosts.",
		Arguments:   []string{"-config", *configPath},
	}

	prg := &program{configPath: *configPath}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}

	if *svcAction != "" {
		if err := service.Control(svc, *svcAction); err != nil {
			log.Fatalf("service %s failed: %v", *svcAction, err)
		}
		fmt.Printf("service %s: ok\n", *svcAction)
		return
	}

	if err := svc.Run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
