package utils

import (
	"context"

	"github.com/mmdatafocus/momo_backend/config"
)

// count records, using WHERE company_id = ? AND $condition
func ResourceCountWhere[T any](ctx context.Context, companyId string, condition string, value ...interface{}) (int64, error) {
	if companyId == "" {
		return 0, ErrCompanyRequired
	}
	var model T
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&model).
		Where("company_id = ?", companyId).
		Where(condition, value...).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
