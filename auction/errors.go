package auction

import "errors"

// 競價與拍賣場次的錯誤分類，為一組封閉的錯誤種類。
// 核心邏輯一律以這些 sentinel error 傳遞，只有在傳輸層邊界
// 才透過 Reason 轉換成對外的拒絕原因字串。
var (
	ErrSessionNotOpen    = errors.New("auction session is not open")
	ErrInvalidAmount     = errors.New("bid amount is not a positive number")
	ErrBidTooLow         = errors.New("bid amount is below the required floor")
	ErrAlreadyLeading    = errors.New("bidder is already the current leader")
	ErrRoomBusy          = errors.New("room already has an open auction session")
	ErrInvalidTransition = errors.New("invalid auction session state transition")
	ErrUnauthenticated   = errors.New("connection is not authenticated")
	ErrNotFound          = errors.New("not found")

	// ErrSessionFaulted 表示場次偵測到內部狀態不一致（例如價格下降），
	// 該場次已被隔離，不再接受任何出價
	ErrSessionFaulted = errors.New("auction session halted by internal consistency fault")
)

// Reason 將錯誤轉換為對外的拒絕原因。
// 未知的錯誤一律回報為 InternalError，不洩漏內部細節。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotOpen):
		return "SessionNotOpen"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrBidTooLow):
		return "BidTooLow"
	case errors.Is(err, ErrAlreadyLeading):
		return "AlreadyLeading"
	case errors.Is(err, ErrRoomBusy):
		return "RoomBusy"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "InternalError"
	}
}
