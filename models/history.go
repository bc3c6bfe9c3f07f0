package models

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
)

// History is the configuration audit log (provider changes, activation toggles).
// Transaction lifecycle auditing lives in MomoTransactionEvent.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyId     string    `gorm:"size:64;index;not null" json:"company_id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:100" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	ctx := tx.Statement.Context
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	userId, userName := utils.Actor(ctx)

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	history := History{
		CompanyId:     companyId,
		ActionType:    actionType,
		Before:        string(b),
		After:         string(a),
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserName:      userName,
	}
	return tx.Create(&history).Error
}
