package domain

// ConnectionStatus はストリーム接続の状態です。
type ConnectionStatus string

const (
	Disconnected ConnectionStatus = "disconnected"
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
)
