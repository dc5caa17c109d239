package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SkywardAI/kirin/internal/model"
)

type DatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) Create(dataset *model.Dataset) error {
	if err := r.db.Create(dataset).Error; err != nil {
		return fmt.Errorf("create dataset failed: %w", err)
	}
	return nil
}

func (r *DatasetRepository) GetByName(name string) (*model.Dataset, error) {
	var dataset model.Dataset
	if err := r.db.Where("name = ?", name).First(&dataset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset failed: %w", err)
	}
	return &dataset, nil
}

func (r *DatasetRepository) ListByAccountID(accountID uint) ([]model.Dataset, error) {
	var datasets []model.Dataset
	if err := r.db.Where("account_id = ?", accountID).Order("created_at DESC").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("list datasets failed: %w", err)
	}
	return datasets, nil
}
