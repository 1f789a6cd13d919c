package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/etcd/pkg/types"
	"github.com/labstack/echo"
	mw "github.com/labstack/echo/middleware"

	"dbcluster/log"
	"dbcluster/member"
)

const adminAPITimeout = 10 * time.Second

// Cluster is what the admin API needs from a cluster manager.
type Cluster interface {
	Name() string
	Size() int
	Databases() []*member.Member
	RemovedDatabases() []member.Removed
	GetClusterStatus() string
	Capabilities() map[string]bool
	Connect(desc member.Descriptor) (*member.Member, error)
	RemoveDatabaseByID(id types.ID) error
	WaitUntilSynchronised(timeout time.Duration) bool
}

// AdminServer serves the cluster's admin API.
type AdminServer struct {
	AdminAddr string
	web       *echo.Echo
	handler   *MemberHandler
}

func NewAdminServer(addr string, c Cluster) *AdminServer {
	s := &AdminServer{
		AdminAddr: addr,
		web:       echo.New(),
		handler:   &MemberHandler{cluster: c},
	}
	s.web.HideBanner = true
	s.RegisterMiddleware()
	s.RegisterURL()
	return s
}

// Run serves until Stop is called.
func (s *AdminServer) Run() {
	err := s.web.Start(s.AdminAddr)
	if err != nil && err != http.ErrServerClosed {
		log.Log.Errorf("admin server start error,err: %s", err)
	}
}

// RegisterMiddleware implements register middleware in web
func (s *AdminServer) RegisterMiddleware() {
	loggerConfig := mw.LoggerConfig{
		Skipper: mw.DefaultSkipper,
		Format: `{"time":"${time_rfc3339_nano}","id":"${id}","remote_ip":"${remote_ip}","host":"${host}",` +
			`"method":"${method}","uri":"${uri}","status":${status}, "latency":${latency},` +
			`"latency_human":"${latency_human}","bytes_in":${bytes_in},` +
			`"bytes_out":${bytes_out}}` + "\n",
		CustomTimeFormat: "2006-01-02 15:04:05.00000",
		Output:           log.NewWriter(),
	}
	s.web.Use(mw.LoggerWithConfig(loggerConfig))
	s.web.Use(mw.Recover())
}

func (s *AdminServer) RegisterURL() {
	s.web.GET("/status", s.handler.GetStatus)
	s.web.GET("/members", s.handler.GetMembers)
	s.web.POST("/members", s.handler.AddMember)
	s.web.DELETE("/members/:id", s.handler.RemoveMember)
	s.web.GET("/removed", s.handler.GetRemoved)
	s.web.POST("/wait", s.handler.Wait)
	s.web.GET("/capabilities", s.handler.GetCapabilities)
}

func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.web.ServeHTTP(w, r)
}

func (s *AdminServer) Stop() {
	ctx, cancelFunc := context.WithTimeout(context.Background(), adminAPITimeout)
	defer cancelFunc()
	if err := s.web.Shutdown(ctx); err != nil {
		log.Log.Errorf("adminServer Shutdown error:%s", err.Error())
	}
}
