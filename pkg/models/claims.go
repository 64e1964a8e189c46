package models

// BaseClaim is an atomic, debatable position extracted from one comment and
// attached to a (topic, subtopic) pair of the clustering taxonomy.
type BaseClaim struct {
	Claim        string `json:"claim"`
	Quote        string `json:"quote"`
	Speaker      string `json:"speaker"`
	TopicName    string `json:"topicName"`
	SubtopicName string `json:"subtopicName"`
	CommentID    string `json:"commentId"`
}

// SubtopicNode groups the claims of one subtopic.
type SubtopicNode struct {
	Total  int         `json:"total"`
	Claims []BaseClaim `json:"claims"`
}

// TopicNode groups the subtopics of one topic. Total is the sum of the
// subtopic claim counts.
type TopicNode struct {
	Total     int                     `json:"total"`
	Subtopics map[string]SubtopicNode `json:"subtopics"`
}

// ClaimsTree maps topicName to its claims, grouped by subtopic. Map key
// order is not significant.
type ClaimsTree map[string]TopicNode

// BuildClaimsTree groups claims under their taxonomy nodes and computes
// subtree totals.
func BuildClaimsTree(claims []BaseClaim) ClaimsTree {
	tree := make(ClaimsTree)
	for _, c := range claims {
		topic, ok := tree[c.TopicName]
		if !ok {
			topic = TopicNode{Subtopics: make(map[string]SubtopicNode)}
		}
		sub := topic.Subtopics[c.SubtopicName]
		sub.Claims = append(sub.Claims, c)
		sub.Total = len(sub.Claims)
		topic.Subtopics[c.SubtopicName] = sub
		topic.Total++
		tree[c.TopicName] = topic
	}
	return tree
}

// TotalClaims returns the number of claims in the whole tree.
func (t ClaimsTree) TotalClaims() int {
	total := 0
	for _, topic := range t {
		total += topic.Total
	}
	return total
}
