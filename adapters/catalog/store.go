package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bidstream/auction"
	"bidstream/models"
)

// Store 是以資料庫實作的型錄儲存層，
// 對競價核心只暴露 auction.CatalogStore 的唯讀視圖，
// 另外提供 API 層需要的卡片 CRUD 與出價紀錄查詢。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetListing 實作 auction.CatalogStore
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (auction.Listing, error) {
	const op = "GetListing"
	card := models.Card{ID: id}
	if result := s.db.WithContext(ctx).First(&card); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return auction.Listing{}, auction.ErrNotFound
		}
		return auction.Listing{}, fmt.Errorf("[%s] Fail to find card, err=%w", op, result.Error)
	}
	return auction.Listing{
		ID:            card.ID,
		SellerID:      card.SellerID,
		StartingPrice: int64(card.StartingPrice),
		Status:        card.Status,
	}, nil
}

// CreateCard 建立一筆卡片刊登
func (s *Store) CreateCard(ctx context.Context, card *models.Card) error {
	const op = "CreateCard"
	if result := s.db.WithContext(ctx).Create(card); result.Error != nil {
		return fmt.Errorf("[%s] Fail to create card, err=%w", op, result.Error)
	}
	return nil
}

// Card 依 ID 取得卡片，連同依序號排序的出價紀錄
func (s *Store) Card(ctx context.Context, id uuid.UUID) (models.Card, error) {
	const op = "Card"
	card := models.Card{ID: id}
	if result := s.db.WithContext(ctx).
		Preload("BidRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number DESC")
		}).
		Preload("BidRecords.Bidder").
		Preload("Seller").
		First(&card); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Card{}, auction.ErrNotFound
		}
		return models.Card{}, fmt.Errorf("[%s] Fail to find card, err=%w", op, result.Error)
	}
	return card, nil
}

// Cards 列出卡片，可依賣家與狀態過濾
func (s *Store) Cards(ctx context.Context, sellerID *uuid.UUID, status string) ([]models.Card, error) {
	const op = "Cards"
	query := s.db.WithContext(ctx).Model(&models.Card{})
	if sellerID != nil {
		query = query.Where("seller_id = ?", *sellerID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var cards []models.Card
	if result := query.Order("created_at DESC").Find(&cards); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list cards, err=%w", op, result.Error)
	}
	return cards, nil
}

// SetCardStatus 更新卡片的刊登狀態（開拍時轉 live、結標時轉 sold）
func (s *Store) SetCardStatus(ctx context.Context, id uuid.UUID, status string) error {
	const op = "SetCardStatus"
	result := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to update card status, err=%w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return auction.ErrNotFound
	}
	return nil
}

// AppendBidRecord 附加一筆已接受出價的歸檔紀錄
func (s *Store) AppendBidRecord(ctx context.Context, record *models.BidRecord) error {
	const op = "AppendBidRecord"
	if result := s.db.WithContext(ctx).Create(record); result.Error != nil {
		return fmt.Errorf("[%s] Fail to create bid record, err=%w", op, result.Error)
	}
	return nil
}

// CardBids 列出卡片的所有歸檔出價，新的在前
func (s *Store) CardBids(ctx context.Context, cardID uuid.UUID) ([]models.BidRecord, error) {
	const op = "CardBids"
	var records []models.BidRecord
	if result := s.db.WithContext(ctx).
		Preload("Bidder").
		Where("card_id = ?", cardID).
		Order("sequence_number DESC").
		Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list bid records, err=%w", op, result.Error)
	}
	return records, nil
}

// UserBids 列出使用者的所有歸檔出價，新的在前
func (s *Store) UserBids(ctx context.Context, bidderID uuid.UUID) ([]models.BidRecord, error) {
	const op = "UserBids"
	var records []models.BidRecord
	if result := s.db.WithContext(ctx).
		Preload("Card").
		Where("bidder_id = ?", bidderID).
		Order("accepted_at DESC").
		Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list bid records, err=%w", op, result.Error)
	}
	return records, nil
}
