package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pingcap/errors"

	"dbcluster/api"
	"dbcluster/cluster"
	"dbcluster/config"
	"dbcluster/log"
	"dbcluster/metrics"
	"dbcluster/utils"
)

var (
	Date    string
	Version string
)

func main() {
	configFile := flag.String("config", "./etc/dbcluster.toml", "dbcluster config file")
	status := flag.String("status", "", "print the status of the cluster served at this admin address and exit")
	printVersion := flag.Bool("version", false, "print dbcluster version info")
	flag.Parse()

	if *printVersion {
		fmt.Printf("version is %s, build at %s\n", Version, Date)
		return
	}

	if len(*status) > 0 {
		if err := printStatus(*status); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		return
	}

	if len(*configFile) == 0 {
		fmt.Println("configFile.len error, err: config is nil")
		os.Exit(1)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("config.Load error, err:%s\n", err.Error())
		os.Exit(1)
	}

	if err := log.InitLogger(cfg.LogDir, cfg.LogLevel); err != nil {
		fmt.Printf("InitLogger error, err:%s\n", err.Error())
		os.Exit(1)
	}
	defer log.UnInitLoggers()

	mgr, err := cluster.NewManager(cfg)
	if err != nil {
		log.Log.Error(errors.ErrorStack(err))
		println(errors.ErrorStack(err))
		return
	}

	var admin *api.AdminServer
	if len(cfg.Admin.AdminAddr) > 0 {
		admin = api.NewAdminServer(cfg.Admin.AdminAddr, mgr)
		go admin.Run()
	}
	prom := metrics.NewPrometheusServer(cfg.Admin.MetricsAddr, cfg.Name,
		mgr.Metrics().Registry, cfg.Admin.FlushInterval.Duration)
	if prom != nil {
		go prom.Run()
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	n := <-sc
	log.Log.Infof("receive signal %v, closing", n)

	if admin != nil {
		admin.Stop()
	}
	if prom != nil {
		prom.Stop()
	}
	mgr.Dismantle()
}

func printStatus(addr string) error {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	r, err := utils.SendRequest(http.MethodGet, strings.TrimRight(addr, "/")+"/status", nil)
	if err != nil {
		return errors.Trace(err)
	}
	var st api.Status
	if err := r.DecodeData(&st); err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("cluster %s, %d databases\n", st.Name, st.Size)
	for _, m := range st.Members {
		fmt.Printf("  %-16s %-14s %s\n", m.ID, m.Status, m.Descriptor)
	}
	fmt.Println(strings.Join(st.Lines, "\n"))
	return nil
}
