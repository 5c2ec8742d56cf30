package domain

import "sync"

// User は /auth/me で返るログインユーザーです。
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Session はログイン状態を保持するコンテキストです。グローバルには置かず、
// ゲートウェイやユースケースへ明示的に渡します。
type Session struct {
	mu       sync.RWMutex
	user     *User
	wsToken  string
	loggedIn bool
}

// NewSession は未ログインのセッションを生成します。
func NewSession() *Session {
	return &Session{}
}

// SetUser はログイン済みユーザーを記録します。
func (s *Session) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	s.loggedIn = true
}

// User はログイン済みユーザーを返します。
func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// IsLoggedIn はログイン済みかを返します。
func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// SetWSToken は注文ストリーム用のトークンを保存します。
func (s *Session) SetWSToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsToken = token
}

// WSToken は保存済みのトークンを返します。
func (s *Session) WSToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wsToken
}

// Clear はログアウト状態に戻します。
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.wsToken = ""
	s.loggedIn = false
}
