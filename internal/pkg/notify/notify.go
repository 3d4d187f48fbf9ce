package notify

// Notifier 定义通知接口。
type Notifier interface {
	// SendWelcome 在注册成功后发送欢迎邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   username: 注册用户名
	SendWelcome(toEmail string, username string) error
}
