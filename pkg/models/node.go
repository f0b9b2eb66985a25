// Package models defines the typed graph shapes of conversational workflows.
package models

import (
	"encoding/json"
	"fmt"
)

// NodeType selects one of the closed set of node variants.
type NodeType string

const (
	NodeTypeStart        NodeType = "START"
	NodeTypeEnd          NodeType = "END"
	NodeTypeMessage      NodeType = "MESSAGE"
	NodeTypeOfferProduct NodeType = "OFFER_PRODUCT"
	NodeTypeCollectInfo  NodeType = "COLLECT_INFO"
	NodeTypeCondition    NodeType = "CONDITION"
	NodeTypeIntentRouter NodeType = "INTENT_ROUTER"
	NodeTypeWaitResponse NodeType = "WAIT_RESPONSE"
	NodeTypeAssignTag    NodeType = "ASSIGN_TAG"
	NodeTypeHandoff      NodeType = "HANDOFF"
)

// NodeTypes lists every supported node type.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeMessage,
	NodeTypeOfferProduct,
	NodeTypeCollectInfo,
	NodeTypeCondition,
	NodeTypeIntentRouter,
	NodeTypeWaitResponse,
	NodeTypeAssignTag,
	NodeTypeHandoff,
}

// Known reports whether t is one of the supported node types.
func (t NodeType) Known() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// IsTerminal reports whether reaching a node of this type ends the execution.
func (t NodeType) IsTerminal() bool {
	return t == NodeTypeEnd || t == NodeTypeHandoff
}

// IsSuspending reports whether the node waits for the next inbound message.
func (t NodeType) IsSuspending() bool {
	return t == NodeTypeCollectInfo || t == NodeTypeWaitResponse
}

// IsBranching reports whether outgoing edges are selected by sourceHandle.
func (t NodeType) IsBranching() bool {
	return t == NodeTypeCondition || t == NodeTypeIntentRouter
}

// IsLinear reports whether the node continues along a single outgoing edge.
func (t NodeType) IsLinear() bool {
	switch t {
	case NodeTypeStart, NodeTypeMessage, NodeTypeOfferProduct, NodeTypeCollectInfo,
		NodeTypeWaitResponse, NodeTypeAssignTag:
		return true
	default:
		return false
	}
}

// NodeData is the per-type payload of a node. The set of implementations is closed.
type NodeData interface {
	NodeType() NodeType
	isNodeData()
}

// Position is the editor canvas position. It carries no runtime meaning.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed unit of graph behavior.
type Node struct {
	ID       string    `json:"id"`
	Type     NodeType  `json:"type"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data"`
}

// Valid reports whether the data variant matches the declared type.
func (n *Node) Valid() bool {
	return n != nil && n.Data != nil && n.Data.NodeType() == n.Type
}

type nodeEnvelope struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position *Position       `json:"position,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes data into the struct selected by type.
func (n *Node) UnmarshalJSON(b []byte) error {
	var env nodeEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	data, err := NewNodeData(env.Type)
	if err != nil {
		return err
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("node %s: decode %s data: %w", env.ID, env.Type, err)
		}
	}

	n.ID = env.ID
	n.Type = env.Type
	n.Position = env.Position
	n.Data = derefData(data)

	return nil
}

// NewNodeData returns a pointer to the zero data struct for t.
func NewNodeData(t NodeType) (NodeData, error) {
	switch t {
	case NodeTypeStart:
		return &StartData{}, nil
	case NodeTypeEnd:
		return &EndData{}, nil
	case NodeTypeMessage:
		return &MessageData{}, nil
	case NodeTypeOfferProduct:
		return &OfferProductData{}, nil
	case NodeTypeCollectInfo:
		return &CollectInfoData{}, nil
	case NodeTypeCondition:
		return &ConditionData{}, nil
	case NodeTypeIntentRouter:
		return &IntentRouterData{}, nil
	case NodeTypeWaitResponse:
		return &WaitResponseData{}, nil
	case NodeTypeAssignTag:
		return &AssignTagData{}, nil
	case NodeTypeHandoff:
		return &HandoffData{}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", t)
	}
}

// Node data is held by value inside Node so copies of a workflow never share payloads.
func derefData(d NodeData) NodeData {
	switch v := d.(type) {
	case *StartData:
		return *v
	case *EndData:
		return *v
	case *MessageData:
		return *v
	case *OfferProductData:
		return *v
	case *CollectInfoData:
		return *v
	case *ConditionData:
		return *v
	case *IntentRouterData:
		return *v
	case *WaitResponseData:
		return *v
	case *AssignTagData:
		return *v
	case *HandoffData:
		return *v
	default:
		return d
	}
}

type StartData struct {
	Label string `json:"label"`
}

type EndData struct {
	Message string `json:"message"`
}

type MessageData struct {
	Message  string `json:"message"`
	Delay    int    `json:"delay"` // seconds
	MediaURL string `json:"mediaUrl"`
}

// Product selection modes.
const (
	ProductSelectionSpecific = "specific"
	ProductSelectionDynamic  = "dynamic"
)

// Handoff behaviors after a product offer.
const (
	OfferHandoffNone      = "none"
	OfferHandoffOnRequest = "on_request"
	OfferHandoffImmediate = "immediate"
)

type ProductSelection struct {
	Mode       string   `json:"mode"`
	ProductIDs []string `json:"productIds"`
	Limit      int      `json:"limit"`
}

type OfferProductData struct {
	ProductSelection ProductSelection `json:"productSelection"`
	OfferType        string           `json:"offerType"`
	MessageTemplate  string           `json:"messageTemplate"`
	HandoffType      string           `json:"handoffType"`
}

// Input validation rule types for COLLECT_INFO.
const (
	ValidationText   = "text"
	ValidationEmail  = "email"
	ValidationPhone  = "phone"
	ValidationNumber = "number"
	ValidationRegex  = "regex"
	ValidationSchema = "schema"
)

// ValidationRule constrains the answer collected by a COLLECT_INFO node.
type ValidationRule struct {
	Type         string         `json:"type"`
	Pattern      string         `json:"pattern,omitempty"`
	Schema       map[string]any `json:"schema,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

type CollectInfoData struct {
	Prompt     string          `json:"prompt"`
	StoreIn    string          `json:"storeIn"`
	Validation *ValidationRule `json:"validation,omitempty"`
}

// Condition evaluation strategies.
const (
	ConditionTypeLLM        = "llm"
	ConditionTypeExpression = "expression"
)

type ConditionData struct {
	ConditionType string   `json:"conditionType"`
	Expression    string   `json:"expression"`
	LLMPrompt     string   `json:"llmPrompt"`
	Outcomes      []string `json:"outcomes"`
}

type Intent struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type IntentRouterData struct {
	Intents        []Intent `json:"intents"`
	DefaultOutcome string   `json:"defaultOutcome"`
	UseLLM         bool     `json:"useLlm"`
}

type WaitResponseData struct {
	VariableName  string `json:"variableName"`
	Timeout       int    `json:"timeout"` // seconds, enforced by the caller
	TimeoutNodeID string `json:"timeoutNodeId"`
}

// Tag actions.
const (
	TagActionAdd    = "add"
	TagActionRemove = "remove"
)

type AssignTagData struct {
	Tags   []string `json:"tags"`
	Action string   `json:"action"`
}

type HandoffData struct {
	Reason     string `json:"reason"`
	NotifyTeam bool   `json:"notifyTeam"`
	AssignTo   string `json:"assignTo"`
}

func (StartData) NodeType() NodeType        { return NodeTypeStart }
func (EndData) NodeType() NodeType          { return NodeTypeEnd }
func (MessageData) NodeType() NodeType      { return NodeTypeMessage }
func (OfferProductData) NodeType() NodeType { return NodeTypeOfferProduct }
func (CollectInfoData) NodeType() NodeType  { return NodeTypeCollectInfo }
func (ConditionData) NodeType() NodeType    { return NodeTypeCondition }
func (IntentRouterData) NodeType() NodeType { return NodeTypeIntentRouter }
func (WaitResponseData) NodeType() NodeType { return NodeTypeWaitResponse }
func (AssignTagData) NodeType() NodeType    { return NodeTypeAssignTag }
func (HandoffData) NodeType() NodeType      { return NodeTypeHandoff }

func (StartData) isNodeData()        {}
func (EndData) isNodeData()          {}
func (MessageData) isNodeData()      {}
func (OfferProductData) isNodeData() {}
func (CollectInfoData) isNodeData()  {}
func (ConditionData) isNodeData()    {}
func (IntentRouterData) isNodeData() {}
func (WaitResponseData) isNodeData() {}
func (AssignTagData) isNodeData()    {}
func (HandoffData) isNodeData()      {}
