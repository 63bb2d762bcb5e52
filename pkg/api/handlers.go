package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/logging"
)

const defaultEventLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) tables() *forwarding.Tables {
	if s.dp == nil {
		return nil
	}
	return s.dp.Tables()
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if t := s.tables(); t != nil {
		resp.Routes = t.FIB.Len()
		resp.Neighbors = t.Neighbors.Len()
	}
	if s.dp != nil {
		resp.Frames = s.dp.Stats().Frames
	}
	if s.ports != nil {
		resp.Ports = len(s.ports.Describe())
	}
	if s.eventBuf != nil {
		resp.DroppedEvents = s.eventBuf.Total()
	}
	writeOK(w, resp)
}

func (s *Server) statisticsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.dp == nil {
		writeError(w, http.StatusServiceUnavailable, "dataplane not running")
		return
	}
	writeOK(w, statisticsFrom(s.dp.Stats()))
}

func routeInfo(r fib.Route) RouteInfo {
	return RouteInfo{
		Destination: r.Destination().String(),
		NextHop:     r.Gateway().String(),
		Interface:   r.Interface,
	}
}

func (s *Server) routesHandler(w http.ResponseWriter, _ *http.Request) {
	t := s.tables()
	if t == nil {
		writeError(w, http.StatusServiceUnavailable, "dataplane not running")
		return
	}
	routes := t.FIB.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeInfo(r))
	}
	writeOK(w, out)
}

func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	t := s.tables()
	if t == nil {
		writeError(w, http.StatusServiceUnavailable, "dataplane not running")
		return
	}
	raw := r.PathValue("addr")
	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Unmap().Is4() {
		writeError(w, http.StatusBadRequest, "invalid IPv4 address: "+raw)
		return
	}
	resp := LookupResponse{Address: addr.Unmap().String()}
	if rt, ok := t.FIB.LookupAddr(addr); ok {
		ri := routeInfo(rt)
		resp.Found = true
		resp.Route = &ri
		if mac, ok := t.Neighbors.Resolve(rt.NextHop); ok {
			resp.Resolved = mac.String()
		}
	}
	writeOK(w, resp)
}

func (s *Server) neighborsHandler(w http.ResponseWriter, _ *http.Request) {
	t := s.tables()
	if t == nil {
		writeError(w, http.StatusServiceUnavailable, "dataplane not running")
		return
	}
	entries := t.Neighbors.Entries()
	out := make([]NeighborInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, NeighborInfo{
			IP:  fib.AddrFrom(e.IP).String(),
			MAC: e.HardwareAddr.String(),
		})
	}
	writeOK(w, out)
}

func (s *Server) interfacesHandler(w http.ResponseWriter, _ *http.Request) {
	if s.ports == nil {
		writeError(w, http.StatusServiceUnavailable, "no ports configured")
		return
	}
	writeOK(w, s.ports.Describe())
}

// eventFilterFromQuery reads reason, port and addr query parameters.
func eventFilterFromQuery(r *http.Request) (logging.EventFilter, error) {
	q := r.URL.Query()
	f := logging.AnyEvent
	f.Reason = q.Get("reason")
	f.Addr = q.Get("addr")
	if p := q.Get("port"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return f, errBadPort
		}
		f.Port = n
	}
	return f, nil
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.eventBuf == nil {
		writeError(w, http.StatusServiceUnavailable, "event buffer not available")
		return
	}
	f, err := eventFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events := s.eventBuf.LatestFiltered(limit, f)
	if events == nil {
		events = []logging.DropEvent{}
	}
	writeOK(w, events)
}

func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if s.reloadFn == nil {
		writeError(w, http.StatusNotImplemented, "reload not supported")
		return
	}
	slog.Info("api: reload requested", "by", principal(r), "remote", r.RemoteAddr)
	if err := s.reloadFn(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]string{"status": "reloaded"})
}
