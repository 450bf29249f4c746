package paystack

import "encoding/json"

// Webhook event names this service reacts to.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebhookData holds the fields shared by charge and transfer payloads.
type WebhookData struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	TransferCode  string `json:"transfer_code"`
	Reason        string `json:"reason"`
	GatewayReason string `json:"gateway_response"`
}

func ParseWebhook(body []byte) (*WebhookEvent, *WebhookData, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, nil, err
	}
	var data WebhookData
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, nil, err
		}
	}
	return &event, &data, nil
}
