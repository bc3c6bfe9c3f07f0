package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
)

var ErrReconciliationBusy = errors.New("reconciliation is being changed by another request")

const reconciliationLockTTL = 2 * time.Minute

// AcquireReconciliationLock serializes runs and manual edits of one reconciliation across instances
// using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that does the work.
func AcquireReconciliationLock(tx *gorm.DB, companyId string, reconciliationId int) error {
	lockName := fmt.Sprintf("momo_recon:%s:%d", companyId, reconciliationId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return ErrReconciliationBusy
	}
	return nil
}

func ReleaseReconciliationLock(tx *gorm.DB, companyId string, reconciliationId int) {
	lockName := fmt.Sprintf("momo_recon:%s:%d", companyId, reconciliationId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// obtainReconciliationRunLock takes the Redis lock for a run when Redis is configured.
// Without Redis the MySQL lock alone serializes runs.
func obtainReconciliationRunLock(ctx context.Context, companyId string, reconciliationId int) (func(), error) {
	if config.GetRedisLock() == nil {
		return func() {}, nil
	}
	release, err := utils.CompanyLock(ctx, companyId, fmt.Sprintf("momo_recon_run:%d", reconciliationId), reconciliationLockTTL)
	if err != nil {
		return release, fmt.Errorf("%w: %v", ErrReconciliationBusy, err)
	}
	return release, nil
}
