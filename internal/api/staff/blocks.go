package staff

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/bookings"
)

const blockTimeLayout = "2006-01-02T15:04:05"

type slotBlockRequest struct {
	CourtID string `json:"courtId"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Reason  string `json:"reason"`
}

type slotBlockResponse struct {
	ID      string `json:"id"`
	CourtID string `json:"courtId"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Reason  string `json:"reason,omitempty"`
}

// POST /api/v1/slot-blocks
func HandleCreateSlotBlock(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if !initialized(w, r) {
		return
	}

	var req slotBlockRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	req.CourtID = strings.TrimSpace(req.CourtID)
	if req.CourtID == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "courtId", Reason: "is required"})
		return
	}
	start, err := apiutil.ParseLocalTimeField(req.Start, "start")
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	end, err := apiutil.ParseLocalTimeField(req.End, "end")
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), staffQueryTimeout)
	defer cancel()

	court, err := deps.DB.Queries.GetCourt(ctx, req.CourtID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Court not found", Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}
	if _, ok := requireFacility(w, r, ctx, court.FacilityID); !ok {
		return
	}

	caller := authz.UserFromContext(r.Context())
	block, err := deps.Lifecycle.CreateSlotBlock(ctx, bookings.BlockRequest{
		CourtID: court.ID,
		Start:   start,
		End:     end,
		Reason:  strings.TrimSpace(req.Reason),
	}, bookings.Actor{UserID: caller.ID, Staff: true})
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusCreated, slotBlockResponse{
		ID:      block.ID,
		CourtID: block.CourtID,
		Start:   block.StartTime.Format(blockTimeLayout),
		End:     block.EndTime.Format(blockTimeLayout),
		Reason:  block.Reason,
	}); err != nil {
		logger.Error().Err(err).Str("block_id", block.ID).Msg("Failed to write slot block response")
	}
}
