package server

import (
	"fmt"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/types"
)

// authResult is the outcome of tag resolution: the matched local user, or the
// roaming grant, plus the protocol status to answer with.
type authResult struct {
	status   types.AuthorizationStatus
	tag      *models.UserTag
	user     *models.User
	roaming  *internal.RoamingAuthorization
	protocol string
}

func (r *authResult) accepted() bool {
	return r.status == types.AuthorizationStatusAccepted
}

// authorizeTag resolves an idTag: local tag store first, roaming second.
// Roaming grants additionally require a public station.
func (h *SystemHandler) authorizeTag(ctx *CallContext, station *models.ChargingStation, idTag string) *authResult {
	if idTag == "" || len(idTag) > types.IdTagMaxLength {
		return &authResult{status: types.AuthorizationStatusInvalid}
	}

	tag, err := h.database.GetUserTag(ctx.Tenant, idTag)
	if err != nil {
		h.logger.Error("get user tag", err)
		return &authResult{status: types.AuthorizationStatusInvalid}
	}
	if tag != nil {
		return h.authorizeLocalTag(ctx, tag)
	}

	// unknown locally; the roaming networks may know it
	for _, service := range h.roaming {
		grant := service.Authorize(idTag)
		if grant == nil {
			continue
		}
		if grant.Blocked {
			return &authResult{status: types.AuthorizationStatusBlocked}
		}
		if grant.Expired {
			return &authResult{status: types.AuthorizationStatusExpired}
		}
		if !grant.Allowed || grant.AuthorizationId == "" {
			return &authResult{status: types.AuthorizationStatusInvalid}
		}
		if station == nil || !station.Public {
			h.logger.Warn(fmt.Sprintf("roaming tag %s rejected on private station", idTag))
			return &authResult{status: types.AuthorizationStatusInvalid}
		}
		return &authResult{
			status:   types.AuthorizationStatusAccepted,
			roaming:  grant,
			protocol: service.Protocol(),
		}
	}
	return &authResult{status: types.AuthorizationStatusInvalid}
}

func (h *SystemHandler) authorizeLocalTag(ctx *CallContext, tag *models.UserTag) *authResult {
	if tag.IsBlocked {
		return &authResult{status: types.AuthorizationStatusBlocked, tag: tag}
	}
	if tag.IsExpired(h.now()) {
		return &authResult{status: types.AuthorizationStatusExpired, tag: tag}
	}
	if !tag.IsEnabled {
		return &authResult{status: types.AuthorizationStatusInvalid, tag: tag}
	}
	result := &authResult{status: types.AuthorizationStatusAccepted, tag: tag}
	if tag.UserId != "" {
		user, err := h.database.GetUser(ctx.Tenant, tag.UserId)
		if err != nil {
			h.logger.Error("get user", err)
			return &authResult{status: types.AuthorizationStatusInvalid, tag: tag}
		}
		if user != nil && user.IsBlocked {
			return &authResult{status: types.AuthorizationStatusBlocked, tag: tag}
		}
		result.user = user
	}
	tag.LastSeen = h.now()
	if err := h.database.SaveUserTag(tag); err != nil {
		h.logger.Error("save user tag", err)
	}
	return result
}

func (h *SystemHandler) OnAuthorize(ctx *CallContext, request *core.AuthorizeRequest) (*core.AuthorizeResponse, error) {
	station, err := h.resolveStation(ctx)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("authorize on unresolved station: %s", err))
		return core.NewAuthorizationResponse(types.NewIdTagInfo(types.AuthorizationStatusInvalid)), nil
	}

	result := h.authorizeTag(ctx, station, request.IdTag.String())

	username := ""
	if result.tag != nil {
		username = result.tag.Username
	}
	h.emit(func(handler internal.EventHandler) {
		handler.OnAuthorize(&internal.EventMessage{
			Type:          "Authorize",
			Tenant:        ctx.Tenant,
			ChargePointId: ctx.ChargeBoxId,
			Time:          h.now(),
			Username:      username,
			IdTag:         request.IdTag.String(),
			Status:        string(result.status),
			Payload:       request,
		})
	})

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("id tag: %s; authorization status: %s", request.IdTag, result.status))
	return core.NewAuthorizationResponse(types.NewIdTagInfo(result.status)), nil
}
