// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Account 定义了 accounts 表的 ORM 模型，对应一个客户公司。
type Account struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Industry  string    `gorm:"type:varchar(50)" json:"industry"`
	Region    string    `gorm:"type:varchar(50)" json:"region"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	OwnerID   uint      `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

// Contact 定义了 contacts 表的 ORM 模型，对应客户公司下的联系人。
type Contact struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID uint      `gorm:"index" json:"accountId"`
	Name      string    `gorm:"type:varchar(50);not null" json:"name"`
	Title     string    `gorm:"type:varchar(50)" json:"title"`
	Email     string    `gorm:"type:varchar(100)" json:"email"`
	Phone     string    `gorm:"type:varchar(30)" json:"phone"`
	OwnerID   uint      `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Lead 定义了 leads 表的 ORM 模型，对应尚未转化的销售线索。
type Lead struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(50);not null" json:"name"`
	Company   string    `gorm:"type:varchar(100)" json:"company"`
	Source    string    `gorm:"type:varchar(50)" json:"source"`
	Status    string    `gorm:"type:varchar(20);not null;default:'new'" json:"status"` // new / contacted / qualified / lost
	OwnerID   uint      `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Lead) TableName() string {
	return "leads"
}

// Opportunity 定义了 opportunities 表的 ORM 模型，对应一个进行中的商机。
type Opportunity struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID uint       `gorm:"index" json:"accountId"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Stage     string     `gorm:"type:varchar(30);not null;default:'prospecting'" json:"stage"` // prospecting / proposal / negotiation / won / lost
	Amount    float64    `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	CloseDate *time.Time `gorm:"default:null" json:"closeDate"`
	OwnerID   uint       `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Opportunity) TableName() string {
	return "opportunities"
}

// Activity 定义了 activities 表的 ORM 模型，对应一条跟进记录（拜访、电话、邮件等）。
type Activity struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string     `gorm:"type:varchar(20);not null" json:"type"` // call / meeting / email / note
	Subject   string     `gorm:"type:varchar(200)" json:"subject"`
	AccountID uint       `gorm:"index" json:"accountId"`
	ContactID uint       `gorm:"index" json:"contactId"`
	DueAt     *time.Time `gorm:"default:null" json:"dueAt"`
	Done      bool       `gorm:"not null;default:false" json:"done"`
	OwnerID   uint       `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Activity) TableName() string {
	return "activities"
}
