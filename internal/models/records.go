package models

import "time"

// Raw records returned by the list endpoints. Field keys are matched in
// order, so snake_case and camelCase payloads decode the same way.

// User is a platform account.
type User struct {
	ID        string    `coalesce:"id,pk,uuid"`
	Name      string    `coalesce:"full_name,fullName,username,name,email"`
	Active    bool      `coalesce:"is_active,isActive,active"`
	CreatedAt time.Time `coalesce:"date_joined,dateJoined,created_at,createdAt"`
}

// Company is a business registered on the platform.
type Company struct {
	ID        string    `coalesce:"id,pk,uuid"`
	Name      string    `coalesce:"name,company_name,companyName"`
	Sector    string    `coalesce:"sector,sector_name,sectorName,industry"`
	CreatedAt time.Time `coalesce:"created_at,createdAt,date_created"`
}

// Product is an item sold by a company.
type Product struct {
	ID        string    `coalesce:"id,pk,uuid"`
	Name      string    `coalesce:"name,title"`
	CompanyID string    `coalesce:"company_id,companyId,company"`
	CreatedAt time.Time `coalesce:"created_at,createdAt,date_created"`
}

// Sale is a transaction; clients see their own sales as orders.
type Sale struct {
	ID          string    `coalesce:"id,pk,uuid,reference"`
	CompanyID   string    `coalesce:"company_id,companyId,company"`
	CompanyName string    `coalesce:"company_name,companyName"`
	CustomerID  string    `coalesce:"customer_id,customerId,client_id,clientId,client"`
	Total       float64   `coalesce:"total,total_amount,totalAmount,amount"`
	Status      string    `coalesce:"status,state"`
	CreatedAt   time.Time `coalesce:"created_at,createdAt,date,sale_date,saleDate"`
}

// IsPending reports whether the order is still open.
func (s Sale) IsPending() bool {
	switch s.Status {
	case "pending", "processing":
		return true
	}
	return false
}
