package runtime

import (
	"net/http"
	"time"

	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
)

// IntrospectionSnapshot is served at BasePath+"/procedures".
type IntrospectionSnapshot struct {
	Procedures  []ProcedureInfo `json:"procedures"`
	Resource    ResourceUsage   `json:"resource"`
	CollectedAt time.Time       `json:"collected_at"`
}

// Procedures lists every registered procedure with its current stats, in
// query, mutation, subscription order and sorted by path within each.
func (s *Service) Procedures() []ProcedureInfo {
	infos := make([]ProcedureInfo, 0, len(s.procedures))
	for _, key := range s.procedures {
		infos = append(infos, ProcedureInfo{
			Type:  key.Type,
			Path:  key.Path,
			Stats: s.stats[key].snapshot(),
		})
	}
	return infos
}

func (s *Service) handleProcedures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	snapshot := IntrospectionSnapshot{
		Procedures:  s.Procedures(),
		Resource:    s.resources.Snapshot(),
		CollectedAt: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, snapshot); err != nil {
		s.Logger.Error("Failed to encode procedures", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
