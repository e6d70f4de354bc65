package web

import (
	"github.com/leadflow/leadflow/pkg/models"
)

type CreateWorkflowRequest struct {
	Name  string         `json:"name"  validate:"required,min=3"`
	Owner string         `json:"owner"`
	Nodes []*models.Node `json:"nodes" validate:"required,min=1"`
	Edges []*models.Edge `json:"edges"`
}

type CreateLeadRequest struct {
	Phone  string   `json:"phone"  validate:"required"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags"`
	Status string   `json:"status"`
	Source string   `json:"source"`
}

type TagAddedRequest struct {
	LeadID string `json:"lead_id" validate:"required"`
	Tag    string `json:"tag"     validate:"required"`
}

type CreateCampaignRequest struct {
	Name         string                 `json:"name"          validate:"required,min=3"`
	TargetFilter string                 `json:"target_filter" validate:"required"`
	Steps        []*models.CampaignStep `json:"steps"         validate:"required,min=1,dive"`
}
