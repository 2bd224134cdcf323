package opentosca

import "encoding/xml"

// Link is an XLink reference as returned by the container API.
type Link struct {
	Href  string `xml:"http://www.w3.org/1999/xlink href,attr" json:"href"`
	Title string `xml:"http://www.w3.org/1999/xlink title,attr" json:"title,omitempty"`
	Type  string `xml:"http://www.w3.org/1999/xlink type,attr" json:"type,omitempty"`
}

// linkList decodes any document whose children are XLink references,
// e.g. <References> for CSARs or the service instance list.
type linkList struct {
	XMLName xml.Name
	Items   []Link `xml:",any"`
}

func (l linkList) links() []Link {
	out := make([]Link, 0, len(l.Items))
	for _, item := range l.Items {
		if item.Href == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Deployment is the result of a successful upload.
type Deployment struct {
	Location string `json:"location"`
}

// ServiceInstance is one running service instance on a container.
type ServiceInstance struct {
	ID                  string `xml:"serviceInstanceID,attr" json:"id"`
	CsarID              string `xml:"csarID,attr" json:"csar_id"`
	ServiceTemplateID   string `xml:"serviceTemplateID,attr" json:"service_template_id"`
	ServiceTemplateName string `xml:"serviceTemplateName,attr" json:"service_template_name"`
	Created             string `xml:"created,attr" json:"created,omitempty"`
	Links               []Link `xml:"Link" json:"links,omitempty"`

	// Reference is the href the entry was fetched from.
	Reference string `xml:"-" json:"reference"`
}
