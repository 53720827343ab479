package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/log"
	"helpdesk-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理客服对话的 WebSocket 连接。
// 每条入站消息都是一个客户问题，走一次完整的分类流程后同步回包。
type ChatHandler struct {
	triageService service.TriageService
	userService   service.UserService
	jwtManager    *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(triageService service.TriageService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		triageService: triageService,
		userService:   userService,
		jwtManager:    jwtManager,
	}
}

// GetWebsocketToken 签发一个用于建立 WebSocket 连接的短时 token。
// 浏览器的 WebSocket API 无法携带 Authorization 头，token 只能走 URL。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	wsToken, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		log.Errorf("GetWebsocketToken: 签发失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发 WebSocket token 失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"wsToken": wsToken}})
}

// chatReply 是 WebSocket 回包的消息结构。
type chatReply struct {
	Type         string  `json:"type"`
	Response     string  `json:"response"`
	ProductName  string  `json:"productName,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	IsUnanswered bool    `json:"isUnanswered"`
	Timestamp    int64   `json:"timestamp"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	// 获取用户模型
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		result, err := h.triageService.Classify(c.Request.Context(), string(message), user)
		if err != nil {
			// 分类失败不断开连接，降级为通用提示
			log.Errorf("处理对话消息失败, user: %s, error: %v", user.Username, err)
			reply := chatReply{
				Type:      "error",
				Response:  "暂时无法处理您的问题，请稍后重试",
				Timestamp: time.Now().UnixMilli(),
			}
			b, _ := json.Marshal(reply)
			if writeErr := conn.WriteMessage(websocket.TextMessage, b); writeErr != nil {
				break
			}
			continue
		}

		reply := chatReply{
			Type:         "answer",
			Response:     result.Response,
			ProductName:  result.ProductName,
			Confidence:   result.Confidence,
			IsUnanswered: result.IsUnanswered,
			Timestamp:    time.Now().UnixMilli(),
		}
		b, _ := json.Marshal(reply)
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Warnf("向 WebSocket 写入消息失败: %v", err)
			break
		}
	}
}
