package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirefish/internal/capture"
	"wirefish/internal/engine"
	"wirefish/internal/metrics"
	"wirefish/internal/models"
)

type testLister []capture.Interface

func (l testLister) Interfaces() ([]capture.Interface, error) { return l, nil }

// idleChannel never delivers a frame.
type idleChannel struct{}

func (idleChannel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	time.Sleep(time.Millisecond)
	return nil, gopacket.CaptureInfo{}, capture.ErrIdle
}

func (idleChannel) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (idleChannel) Close() {}

type idleOpener struct{}

func (idleOpener) Open(capture.Interface) (capture.Channel, error) { return idleChannel{}, nil }

func newTestRouter(t *testing.T, opts RouterOptions) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := engine.New(engine.Options{
		Lister: testLister{{Name: "eth0"}, {Name: "lo"}},
		Opener: idleOpener{},
	})
	t.Cleanup(func() { eng.Shutdown(time.Second) })
	return NewRouter(eng, opts), eng
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error models.ErrorPayload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Type
}

func TestListInterfaces(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	w := do(t, r, http.MethodGet, "/api/interfaces", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"interfaces":["eth0","lo"]}`, w.Body.String())
}

func TestSelectInterfaceRoute(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/interfaces/select", `{"interface_name":"eth9"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "InterfaceNotFound", errorType(t, w))

	w = do(t, r, http.MethodPost, "/api/interfaces/select", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BadRequest", errorType(t, w))

	w = do(t, r, http.MethodPost, "/api/interfaces/select", `{"interface_name":"eth0"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"eth0"`)
}

func TestSniffingLifecycleRoutes(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/sniffing/start", `{"is_resume":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "StartSniffingWithoutInterfaceSelection", errorType(t, w))

	w = do(t, r, http.MethodPost, "/api/interfaces/select", `{"interface_name":"eth0"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/sniffing/stop", `{"stop":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "StopSniffingWithoutPriorStart", errorType(t, w))

	w = do(t, r, http.MethodPost, "/api/sniffing/start", `{"is_resume":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	var st models.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "Running", st.State)
	assert.Equal(t, "eth0", st.InterfaceName)

	w = do(t, r, http.MethodPost, "/api/sniffing/stop", `{"stop":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "Stopped", st.State)

	w = do(t, r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"Stopped"`)
}

func TestGetPacketsRoute(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{"empty store", "/api/packets", http.StatusOK, ""},
		{"explicit none", "/api/packets?filter=none&start=0&end=10", http.StatusOK, ""},
		{"unknown filter", "/api/packets?filter=vlan", http.StatusBadRequest, "UnknownFilterType"},
		{"start past end", "/api/packets?start=3", http.StatusBadRequest, "GetPacketsIndexNotValid"},
		{"unparsable start", "/api/packets?start=abc", http.StatusBadRequest, "BadRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.status, w.Code)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, errorType(t, w))
				return
			}
			assert.JSONEq(t, `{"total":0,"packets":[]}`, w.Body.String())
		})
	}
}

func TestGenerateReportRoute(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	path := filepath.Join(t.TempDir(), "report.csv")
	w := do(t, r, http.MethodPost, "/api/report", `{"report_path":"`+filepath.ToSlash(path)+`","first_generation":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	bad := filepath.Join(t.TempDir(), "missing", "report.csv")
	w = do(t, r, http.MethodPost, "/api/report", `{"report_path":"`+filepath.ToSlash(bad)+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "ReportGenerationFailed", errorType(t, w))
}

func TestGetStreamRoute(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	w := do(t, r, http.MethodGet, "/api/streams/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/streams/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", errorType(t, w))
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	require.NoError(t, m.Register(reg))
	m.ObserveTransition("start", 0, 0)

	r, _ := newTestRouter(t, RouterOptions{MetricsPath: "/internal/metrics", Gatherer: reg})

	w := do(t, r, http.MethodGet, "/internal/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wirefish_session_transitions_total")

	r, _ = newTestRouter(t, RouterOptions{})
	w = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusOf(t *testing.T) {
	_, eng := newTestRouter(t, RouterOptions{})
	_, notFound := eng.SelectInterface("eth9")
	startErr := eng.StartSniffing(false)
	_, _, filterErr := eng.GetPackets(queryOf(models.GetPacketsRequest{Filter: "vlan"}))

	assert.Equal(t, http.StatusNotFound, statusOf(notFound))
	assert.Equal(t, http.StatusConflict, statusOf(startErr))
	assert.Equal(t, http.StatusBadRequest, statusOf(filterErr))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("plain")))

	assert.Equal(t, "Unknown", errorPayload(errors.New("plain")).Type)
	assert.Equal(t, "UnknownFilterType", errorPayload(filterErr).Type)
}
