package api

import (
	"net/http"
	"time"

	"github.com/coreos/etcd/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo"
	"github.com/pingcap/errors"

	"dbcluster/cluster"
	"dbcluster/log"
	"dbcluster/member"
	"dbcluster/utils"
)

const defaultWaitTimeout = 5 * time.Second

var validate = validator.New()

type MemberHandler struct {
	cluster Cluster
}

// Member is the admin view of a member. Passwords never leave the process.
type Member struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	Status       member.Status     `json:"status"`
	Descriptor   member.Descriptor `json:"descriptor"`
	Capabilities map[string]bool   `json:"capabilities"`
	Journal      int               `json:"journal,omitempty"`
}

func newMember(m *member.Member) Member {
	v := Member{
		ID:           m.ID().String(),
		Label:        m.Label(),
		Status:       m.Status(),
		Descriptor:   m.Descriptor().Redacted(),
		Capabilities: m.Capabilities(),
	}
	if j := m.Journal(); j != nil {
		v.Journal = j.Len()
	}
	return v
}

// RemovedMember is the admin view of a member taken out of the cluster.
type RemovedMember struct {
	ID     string        `json:"id"`
	Label  string        `json:"label"`
	Status member.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// Status is the body of GET /status.
type Status struct {
	Name    string   `json:"name"`
	Size    int      `json:"size"`
	Lines   []string `json:"lines"`
	Members []Member `json:"members"`
}

func (h *MemberHandler) members() []Member {
	ms := h.cluster.Databases()
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		out = append(out, newMember(m))
	}
	return out
}

func (h *MemberHandler) GetStatus(echoCtx echo.Context) error {
	st := Status{
		Name:    h.cluster.Name(),
		Size:    h.cluster.Size(),
		Lines:   splitLines(h.cluster.GetClusterStatus()),
		Members: h.members(),
	}
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(st))
}

func (h *MemberHandler) GetMembers(echoCtx echo.Context) error {
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(h.members()))
}

// AddMember connects the database described by the request body. The new
// member synchronizes in the background.
func (h *MemberHandler) AddMember(echoCtx echo.Context) error {
	var desc member.Descriptor
	if err := echoCtx.Bind(&desc); err != nil {
		return echoCtx.JSON(http.StatusBadRequest, utils.NewResp().SetError(err.Error()))
	}
	if err := validate.Struct(desc); err != nil {
		return echoCtx.JSON(http.StatusBadRequest, utils.NewResp().SetError(err.Error()))
	}
	m, err := h.cluster.Connect(desc)
	if err != nil {
		log.Log.Errorf("AddMember: connect error,err:%s,member:%s", err, desc.Redacted())
		return echoCtx.JSON(statusOf(err), utils.NewResp().SetError(err.Error()))
	}
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(newMember(m)))
}

func (h *MemberHandler) RemoveMember(echoCtx echo.Context) error {
	id, err := types.IDFromString(echoCtx.Param("id"))
	if err != nil {
		return echoCtx.JSON(http.StatusBadRequest, utils.NewResp().SetError("invalid member id"))
	}
	if err := h.cluster.RemoveDatabaseByID(id); err != nil {
		return echoCtx.JSON(statusOf(err), utils.NewResp().SetError(err.Error()))
	}
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(id.String()))
}

func (h *MemberHandler) GetRemoved(echoCtx echo.Context) error {
	recs := h.cluster.RemovedDatabases()
	out := make([]RemovedMember, 0, len(recs))
	for _, r := range recs {
		out = append(out, RemovedMember{
			ID:     r.ID.String(),
			Label:  r.Label,
			Status: r.Status,
			Reason: r.Reason,
			At:     r.At,
		})
	}
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(out))
}

// Wait blocks until every member is ready or the timeout query parameter
// passes. The answer is 200 either way.
func (h *MemberHandler) Wait(echoCtx echo.Context) error {
	timeout := defaultWaitTimeout
	if q := echoCtx.QueryParam("timeout"); len(q) > 0 {
		d, err := time.ParseDuration(q)
		if err != nil || d < 0 {
			return echoCtx.JSON(http.StatusBadRequest, utils.NewResp().SetError("invalid timeout"))
		}
		timeout = d
	}
	ok := h.cluster.WaitUntilSynchronised(timeout)
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(map[string]interface{}{
		"synchronised": ok,
		"lines":        splitLines(h.cluster.GetClusterStatus()),
	}))
}

func (h *MemberHandler) GetCapabilities(echoCtx echo.Context) error {
	return echoCtx.JSON(http.StatusOK, utils.NewResp().SetData(h.cluster.Capabilities()))
}

func statusOf(err error) int {
	switch errors.Cause(err) {
	case cluster.ErrDatabaseNotFound:
		return http.StatusNotFound
	case cluster.ErrDatabaseExists, cluster.ErrUnableToRemoveLastDatabase:
		return http.StatusConflict
	case cluster.ErrDismantled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
