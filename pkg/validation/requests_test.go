package validation

import "testing"

func TestValidateRequests_TableDriven(t *testing.T) {
	cases := []struct {
		name string
		req  interface{}
		ok   bool
	}{
		{"wallet event connect", &WalletEventRequest{Type: EventAccountChanged, Address: "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"}, true},
		{"wallet event disconnect has no address", &WalletEventRequest{Type: EventAccountChanged}, true},
		{"wallet event bad address", &WalletEventRequest{Type: EventAccountChanged, Address: "0x123"}, false},
		{"wallet event unknown type", &WalletEventRequest{Type: "walletLocked"}, false},
		{"network change needs chain id", &WalletEventRequest{Type: EventNetworkChanged}, false},
		{"network change ok", &WalletEventRequest{Type: EventNetworkChanged, ChainID: 8453}, true},
		{"create agent ok", &CreateAgentRequest{Prompt: "a sarcastic barista"}, true},
		{"create agent empty prompt", &CreateAgentRequest{}, false},
		{"upgrade ok", &UpgradeAgentRequest{AgentID: "42", Level: 3}, true},
		{"upgrade non-numeric id", &UpgradeAgentRequest{AgentID: "abc", Level: 3}, false},
		{"upgrade missing level", &UpgradeAgentRequest{AgentID: "42"}, false},
		{"buy ticket ok", &BuyTicketRequest{Quantity: 5}, true},
		{"buy ticket zero", &BuyTicketRequest{}, false},
		{"withdraw ok", &WithdrawRequest{Amount: "1000"}, true},
		{"withdraw zero", &WithdrawRequest{Amount: "0"}, false},
		{"withdraw negative", &WithdrawRequest{Amount: "-5"}, false},
		{"poll start ok", &PollStartRequest{TaskID: "t-1", Kind: PollKindTask}, true},
		{"poll start bad kind", &PollStartRequest{TaskID: "t-1", Kind: "other"}, false},
		{"poll start interval too tight", &PollStartRequest{TaskID: "t-1", Kind: PollKindRecord, IntervalMs: 10}, false},
		{"audio enqueue ok", &AudioEnqueueRequest{Order: 1, Payload: "cGNt"}, true},
		{"audio enqueue bad base64", &AudioEnqueueRequest{Order: 1, Payload: "not-base64!!!"}, false},
		{"audio enqueue missing order", &AudioEnqueueRequest{Payload: "cGNt"}, false},
		{"chat connect ok", &ChatConnectRequest{ConversationID: "conv-1"}, true},
		{"chat connect empty", &ChatConnectRequest{}, false},
	}

	v := NewRequestValidator()
	for _, tc := range cases {
		err := v.Validate(tc.req)
		if tc.ok && err != nil {
			t.Fatalf("%s unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.name)
		}
	}
}
